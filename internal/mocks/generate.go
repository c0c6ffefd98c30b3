// Package mocks provides generated mock implementations for testing the job engine.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// repository interfaces in internal/core. To regenerate mocks after interface
// changes, run:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/sublead/sublead-api/internal/core JobRepository

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=result_repository_mock.go github.com/sublead/sublead-api/internal/core ResultRepository

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=quota_repository_mock.go github.com/sublead/sublead-api/internal/core QuotaRepository
