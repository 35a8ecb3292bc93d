// Command mstbake bakes a glTF scene into a merged environment and a
// collision mesh.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	mstbake "github.com/flywave/go-mstbake"
	"github.com/flywave/go-mstbake/gltfscene"
	"github.com/flywave/go-mstbake/stage"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to TOML config (optional)")
		outDir     = flag.String("out", ".", "output directory for <name>.environment.glb and <name>.collision.glb")
		driver     = flag.String("driver", "", "override staging.driver (sqlite|memory)")
		dbPath     = flag.String("db", "", "override staging.path")
		instancing = flag.Bool("instancing", true, "treat meshes referenced by several nodes as instanced")
		level      = flag.String("log-level", "", "override log.level")
		dumpConfig = flag.Bool("dump-config", false, "print the effective config and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] scene.gltf|scene.glb\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := mstbake.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = mstbake.LoadConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *driver != "" {
		cfg.Staging.Driver = *driver
	}
	if *dbPath != "" {
		cfg.Staging.Path = *dbPath
	}
	if *level != "" {
		cfg.Log.Level = *level
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *dumpConfig {
		data, err := cfg.Marshal()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := mstbake.SetLogLevel(cfg.Log.Level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, cfg, flag.Arg(0), *outDir, *instancing); err != nil {
		mstbake.Logger().Error("bake failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *mstbake.Config, input, outDir string, instancing bool) error {
	logger := mstbake.Logger()

	scene, err := gltfscene.Load(input, gltfscene.Options{Instancing: instancing})
	if err != nil {
		return err
	}
	logger.Info("scene loaded", "path", input, "materials", len(scene.Materials))

	store, err := stage.Open(cfg.Staging.Driver, cfg.Staging.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := mstbake.NewBaker(store, mstbake.WithConfig(cfg)).Bake(ctx, scene)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	envDoc, err := gltfscene.ExportEnvironment(res.Environment)
	if err != nil {
		return err
	}
	envPath := filepath.Join(outDir, base+".environment.glb")
	if err := gltfscene.WriteGLB(envPath, envDoc); err != nil {
		return err
	}

	colDoc, err := gltfscene.ExportCollision(res.Collision)
	if err != nil {
		return err
	}
	colPath := filepath.Join(outDir, base+".collision.glb")
	if err := gltfscene.WriteGLB(colPath, colDoc); err != nil {
		return err
	}

	logger.Info("written", "environment", envPath, "collision", colPath,
		"meshes", res.Environment.Len(), "triangles", res.Collision.TriangleCount())
	return nil
}
