// Package testutil provides testify mocks for the compile pipeline's
// collaborators.
package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/orgrosua/yabe-siul/internal/cachestore"
	"github.com/orgrosua/yabe-siul/internal/importmap"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// MockResolver is a mock dependency resolver.
type MockResolver struct {
	mock.Mock
}

// Resolve mocks the Resolve method.
func (m *MockResolver) Resolve(ctx context.Context, version string) (*importmap.Map, error) {
	args := m.Called(ctx, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importmap.Map), args.Error(1)
}

// MockCompiler is a mock sandboxed compiler.
type MockCompiler struct {
	mock.Mock
}

// Compile mocks the Compile method.
func (m *MockCompiler) Compile(ctx context.Context, version string, imports *importmap.Map, req types.CompileRequest) (types.CompileResult, error) {
	args := m.Called(ctx, version, imports, req)
	return args.Get(0).(types.CompileResult), args.Error(1)
}

// MockArtifactStore is a mock artifact store.
type MockArtifactStore struct {
	mock.Mock
}

// Write mocks the Write method.
func (m *MockArtifactStore) Write(ctx context.Context, data []byte) (*cachestore.Artifact, error) {
	args := m.Called(ctx, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cachestore.Artifact), args.Error(1)
}

// MockVersions is a mock version source.
type MockVersions struct {
	mock.Mock
}

// Versions mocks the Versions method.
func (m *MockVersions) Versions(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockSettings is a mock settings source.
type MockSettings struct {
	mock.Mock
}

// Settings mocks the Settings method.
func (m *MockSettings) Settings(ctx context.Context) (types.Settings, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Settings), args.Error(1)
}

// Workspace mocks the Workspace method.
func (m *MockSettings) Workspace(ctx context.Context) (types.Workspace, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Workspace), args.Error(1)
}
