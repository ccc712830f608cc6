package engine

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/pkg/advisor"
	"github.com/taskmesh/taskmesh/pkg/generators"
	"github.com/taskmesh/taskmesh/pkg/hub"
	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/notifier"
	"github.com/taskmesh/taskmesh/pkg/process"
	"github.com/taskmesh/taskmesh/pkg/store"
	"github.com/taskmesh/taskmesh/pkg/types"
)

// StructureFile is the well-known path the structure is fetched from
const StructureFile = "structure.json"

// DependencyFactory creates default implementations of dependencies.
// This follows the dependency injection pattern and removes hidden
// concrete fallbacks from constructors.
type DependencyFactory struct {
	projectRoot string
	logger      logger.Logger
	config      *types.TaskmeshConfig
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(projectRoot string, log logger.Logger, config *types.TaskmeshConfig) *DependencyFactory {
	return &DependencyFactory{
		projectRoot: projectRoot,
		logger:      log,
		config:      config,
	}
}

// CreateDefaults creates all default dependencies for Taskmesh.
// This centralizes dependency creation and makes it explicit and testable.
func (f *DependencyFactory) CreateDefaults() (interfaces.Dependencies, error) {
	contentStore, err := f.createStore()
	if err != nil {
		return interfaces.Dependencies{}, err
	}

	generator, err := f.createGenerator()
	if err != nil {
		return interfaces.Dependencies{}, err
	}

	deps := interfaces.Dependencies{
		Hub:             hub.New(f.logger, contentStore),
		Store:           contentStore,
		Generator:       generator,
		StructureSource: &storeStructureSource{store: contentStore, path: StructureFile},
		ProcessManager:  process.NewManager(f.logger),
	}

	// The advisor rides on the same generation backend as the workers
	if generator != nil {
		deps.Advisor = advisor.New(generator, f.logger)
	}

	if n := f.config.Notifications; n != nil && n.Enabled != nil && *n.Enabled {
		deps.Notifier = notifier.New(notifier.Config{Enabled: true}, f.logger)
	}

	return deps, nil
}

// CreateWithOverrides creates dependencies with specific overrides.
// This is useful for testing or custom configurations.
func (f *DependencyFactory) CreateWithOverrides(overrides interfaces.Dependencies) (interfaces.Dependencies, error) {
	deps, err := f.CreateDefaults()
	if err != nil {
		return deps, err
	}

	if overrides.Hub != nil {
		deps.Hub = overrides.Hub
	}
	if overrides.Store != nil {
		deps.Store = overrides.Store
	}
	if overrides.Generator != nil {
		deps.Generator = overrides.Generator
	}
	if overrides.Advisor != nil {
		deps.Advisor = overrides.Advisor
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}
	if overrides.StructureSource != nil {
		deps.StructureSource = overrides.StructureSource
	}
	if overrides.ProcessManager != nil {
		deps.ProcessManager = overrides.ProcessManager
	}

	return deps, nil
}

// Individual factory methods for each dependency

func (f *DependencyFactory) createStore() (interfaces.ContentStore, error) {
	return store.NewFileStore(f.projectRoot, f.logger)
}

func (f *DependencyFactory) createGenerator() (interfaces.Generator, error) {
	if f.config.Generation == nil {
		return nil, nil
	}
	return generators.NewRegistry().Create(f.config.Generation, f.logger)
}

// storeStructureSource reads the project structure from the content
// store. The coordinator polls it until the file appears.
type storeStructureSource struct {
	store interfaces.ContentStore
	path  string
}

func (s *storeStructureSource) FetchStructure(ctx context.Context) (types.ProjectStructure, error) {
	data, err := s.store.Fetch(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("structure not available at %s: %w", s.path, err)
	}
	return types.ParseStructure([]byte(data))
}
