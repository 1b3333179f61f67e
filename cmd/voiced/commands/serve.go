package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/eumlab/voiced/pkg/blob"
	"github.com/eumlab/voiced/pkg/config"
	"github.com/eumlab/voiced/pkg/enhance"
	"github.com/eumlab/voiced/pkg/engine"
	"github.com/eumlab/voiced/pkg/enroll"
	"github.com/eumlab/voiced/pkg/server"
	"github.com/eumlab/voiced/pkg/signature"
	"github.com/eumlab/voiced/pkg/speech"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the voice-cloning TTS server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "YAML config file (defaults apply when omitted)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.Default()

	sigDir := filepath.Join(cfg.DataDir, "signatures")
	if err := os.MkdirAll(sigDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var remote blob.Store
	if cfg.S3.Enabled {
		remote = blob.NewS3(newS3Client(cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix)
		log.Info("remote signature tier enabled", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	}

	local, err := blob.NewDir(sigDir)
	if err != nil {
		return fmt.Errorf("open signature dir: %w", err)
	}
	store, err := signature.NewStore(signature.StoreOptions{
		Local:      local,
		Remote:     remote,
		RecordsDir: filepath.Join(cfg.DataDir, "records"),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	rt, den, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}

	enh, err := enhance.New(den, cfg.OutputRate, log)
	if err != nil {
		return err
	}
	pipeline, err := enroll.New(enroll.Options{
		Store:    store,
		Runtime:  rt,
		Enhancer: enh,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Store:           store,
		Pipeline:        pipeline,
		Speech:          speech.NewOrchestrator(rt, cfg.OutputRate, log),
		Runtime:         rt,
		DefaultLanguage: cfg.DefaultLanguage,
	})
	if err != nil {
		return err
	}

	// Pay the default language's model load before the first request.
	if rt.Ready() && cfg.DefaultLanguage != "" {
		go func() {
			if _, err := rt.SourceSignature(ctx, cfg.DefaultLanguage); err != nil {
				log.Warn("default language preload failed",
					"language", cfg.DefaultLanguage, "error", err)
			}
		}()
	}

	httpSrv := &http.Server{Addr: cfg.Listen, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Listen, "output_rate", cfg.OutputRate)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// buildRuntime wires the engines behind the sidecar, or a degraded runtime
// when no sidecar is configured: health answers, synthesis and enrollment
// refuse work.
func buildRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*engine.Runtime, engine.Denoiser, error) {
	if cfg.Engine.URL == "" {
		log.Warn("no engine sidecar configured, serving degraded")
		rt, err := engine.NewRuntime(engine.RuntimeOptions{
			NewSynthesizer: func(context.Context, engine.Language) (engine.Synthesizer, error) {
				return nil, engine.ErrUnavailable
			},
			Device: "none",
			Logger: log,
		})
		return rt, nil, err
	}

	sidecar := engine.NewSidecar(cfg.Engine.URL, cfg.Engine.Timeout)
	info, err := sidecar.Info(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("probe engine sidecar at %s: %w", cfg.Engine.URL, err)
	}
	log.Info("engine sidecar up",
		"device", info.Device,
		"converter", info.Converter,
		"denoiser", info.Denoiser)

	var conv engine.Converter
	if info.Converter {
		conv = sidecar
	}
	var den engine.Denoiser
	if info.Denoiser && cfg.Engine.Denoise {
		den = sidecar.Denoiser(info.DenoiserRate)
	}

	rt, err := engine.NewRuntime(engine.RuntimeOptions{
		Converter:      conv,
		Denoiser:       den,
		NewSynthesizer: sidecar.NewSynthesizer,
		SourceDir:      filepath.Join(cfg.DataDir, "sources"),
		Device:         info.Device,
		Logger:         log,
	})
	return rt, den, err
}

// newS3Client builds the S3 client from config plus the conventional
// AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY environment credentials.
func newS3Client(cfg config.S3) *s3.Client {
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		key := os.Getenv("AWS_ACCESS_KEY_ID")
		secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
		if key == "" || secret == "" {
			return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY not set")
		}
		return aws.Credentials{
			AccessKeyID:     key,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		}, nil
	})
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: creds,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}
