// Package mocks provides mock implementations for testing the session core.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for
// the port interfaces. Hand-written doubles with override funcs live in the
// session subpackage; gomock mocks are preferred when a test needs strict
// call expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	store := mocks.NewMockCredentialStore(ctrl)
//	store.EXPECT().Get(gomock.Any(), "session.snapshot").Return(nil, false, nil)
package mocks

// Generate mock for CredentialStore interface from internal/ports.
// This creates MockCredentialStore with Get, Set, and Delete.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=credential_store_mock.go github.com/attuned-ai/attuned/internal/ports CredentialStore
