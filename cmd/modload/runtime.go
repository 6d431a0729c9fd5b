package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/modload/fsys"
	"github.com/kingrea/modload/install"
	"github.com/kingrea/modload/internal/config"
	"github.com/kingrea/modload/internal/logging"
	"github.com/kingrea/modload/module"
	"github.com/kingrea/modload/packagemanager"
	"github.com/kingrea/modload/plugins"
	"github.com/kingrea/modload/resolve"
)

const (
	filesystemHandle = "os"
	installerHandle  = "project-installer"
	defaultEntry     = "main"
)

// runtime bundles everything one CLI invocation needs.
type runtime struct {
	cfg     *config.Config
	log     *logging.Logger
	files   *fsys.AferoFS
	handles *packagemanager.Handles
	manager *packagemanager.Manager
}

func openRuntime(v *viper.Viper) (*runtime, error) {
	project := v.GetString("project")
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		project = wd
	}
	if err := config.InitProjectDir(project); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.ModloadDir, err)
	}
	cfg, err := config.NewConfig(project)
	if err != nil {
		return nil, err
	}
	level, err := zapcore.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger, err := logging.New(cfg.ProjectDir, level)
	if err != nil {
		return nil, err
	}

	policyName := v.GetString("cache")
	if policyName == "" {
		policyName = cfg.CachePolicy()
	}
	policy, err := packagemanager.ParseCachePolicy(policyName)
	if err != nil {
		logger.Close()
		return nil, err
	}

	files := fsys.OS()
	executors := plugins.Defaults()
	if err := plugins.Configure(executors, cfg.ExtensionAliases()); err != nil {
		logger.Close()
		return nil, err
	}
	builtins := module.Defaults()
	resolver := resolve.New(files,
		resolve.WithBuiltins(builtins),
		resolve.WithModulesDir(cfg.ModulesDir()),
		resolve.WithManifest(cfg.Manifest()),
	)

	handles := packagemanager.NewHandles()
	if _, err := handles.RegisterFilesystem(filesystemHandle, files); err != nil {
		logger.Close()
		return nil, err
	}
	var installer install.Installer
	if !v.GetBool("no-install") {
		installer = newInstaller(cfg, files)
	}
	if installer != nil {
		if _, err := handles.RegisterInstaller(installerHandle, installer); err != nil {
			logger.Close()
			return nil, err
		}
	}

	manager, err := packagemanager.New(files, installer,
		packagemanager.WithResolver(resolver),
		packagemanager.WithExecutors(executors),
		packagemanager.WithBuiltins(builtins),
		packagemanager.WithCachePolicy(policy),
		packagemanager.WithSyncInstall(cfg.Install().Sync || v.GetBool("sync-install")),
		packagemanager.WithInstallOptions(cfg.Install().Options),
		packagemanager.WithLogger(logger.Zap()),
		packagemanager.WithHandles(handles),
	)
	if err != nil {
		logger.Close()
		return nil, err
	}
	logger.Printf("modload started in %s (cache=%s)", cfg.ProjectDir, policy)
	return &runtime{cfg: cfg, log: logger, files: files, handles: handles, manager: manager}, nil
}

// newInstaller returns the configured installer, or nil when installing is
// disabled.
func newInstaller(cfg *config.Config, files *fsys.AferoFS) install.Installer {
	settings := cfg.Install()
	if !settings.Enabled {
		return nil
	}
	if settings.Registry != "" {
		return &install.Directory{
			Registry:     afero.NewOsFs(),
			RegistryRoot: settings.Registry,
			Target:       files,
			ModulesDir:   cfg.ModulesDir(),
			Manifest:     cfg.Manifest(),
		}
	}
	return &install.Command{
		Program:  settings.Command[0],
		Args:     settings.Command[1:],
		FS:       files,
		Manifest: cfg.Manifest(),
		StateDir: config.ModloadDir,
	}
}

// from turns the --from flag into a requesting path. Specifiers resolve
// against its directory.
func (r *runtime) from(flag string) string {
	if flag == "" {
		return filepath.Join(r.cfg.ProjectDir, defaultEntry)
	}
	if filepath.IsAbs(flag) {
		return filepath.Clean(flag)
	}
	return filepath.Join(r.cfg.ProjectDir, flag)
}

func (r *runtime) Close(ctx context.Context) error {
	err := r.manager.Close(ctx)
	if cerr := r.log.Close(); err == nil {
		err = cerr
	}
	return err
}
