package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"strings"
	"syscall"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raidolabs/raido/featureflag"
	"github.com/raidolabs/raido/forward"
	raidohttp "github.com/raidolabs/raido/http"
	"github.com/raidolabs/raido/ledger"
	"github.com/raidolabs/raido/raster"
	"github.com/raidolabs/raido/registry"
	"github.com/raidolabs/raido/smoketest"
	raidows "github.com/raidolabs/raido/websocket"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Raido version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "raido_info",
		Help:        "Raido information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr            string   `cli:""        env:"RAIDO_ADDR"             help:"Listening address for API connections."`
	AdminAddr       string   `cli:""        env:"RAIDO_ADMIN_ADDR"       help:"Admin listening address."`
	PublicEndpoint  string   `cli:""        env:"RAIDO_PUBLIC_ENDPOINT"  help:"The public endpoint where this Raido server is reachable."`
	PrivateKey      string   `cli:""        env:"RAIDO_PRIVATE_KEY"      help:"The private key of the server-unique Ethereum-compatible wallet that owns the registry."`
	PrivateKeyFile  string   `cli:""        env:"RAIDO_PRIVATE_KEY_FILE" help:"The file that contains the owner private key."`
	Precision       uint     `cli:""        env:"RAIDO_PRECISION"        help:"The grid precision stored cells are encoded at. Immutable for the lifetime of a deployment."`
	MaxPrecision    uint     `cli:""        env:"RAIDO_MAX_PRECISION"    help:"The highest precision the rasterizer accepts."`
	LedgerPath      string   `cli:""        env:"RAIDO_LEDGER_PATH"      help:"The SQLite file the notification ledger is persisted to. Kept in memory when empty."`
	ForwardEndpoint string   `cli:",hidden" env:"RAIDO_FORWARD_ENDPOINT" help:"Endpoint to where notification events are forwarded."`
	AllowedUsers    []string `cli:""        env:"RAIDO_ALLOWED_USERS"    help:"Comma separated identities bootstrapped onto the allow-list."`
	LogLevel        string   `cli:""        env:"RAIDO_LOG_LEVEL"        help:"Log level (debug|info|warning|error)."`
	LogIndent       bool     `cli:""        env:"RAIDO_LOG_INDENT"       help:"Indent logs."`
	FeatureFlags    []string `cli:",hidden" env:"RAIDO_FEATURE_FLAGS"    help:"Comma separated feature flags"`
	Version         bool     `cli:""        env:"-"                      help:"Show version."`
	Help            bool     `cli:""        env:"-"                      help:"Show help."`
}

func main() {
	// Optional .env file for local runs. Environment set by the platform
	// wins.
	godotenv.Load()

	conf := config{
		Addr:           ":4100",
		AdminAddr:      ":18290",
		PublicEndpoint: "http://localhost:4100",
		Precision:      16,
		MaxPrecision:   raster.MaxPrecision,
		LogLevel:       logs.InfoLevel.String(),
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the Raido flight-volume registry server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	privateKey, err := loadPrivateKey(conf)
	if err != nil {
		logs.Fatal(errors.New("error loading private key").Wrap(err))
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	var store ledger.Store
	if conf.LedgerPath != "" {
		store, err = ledger.OpenSQLiteStore(conf.LedgerPath)
		if err != nil {
			logs.Fatal(errors.New("opening notification ledger failed").Wrap(err))
		}
	} else {
		store = ledger.NewMemoryStore()
	}

	log := ledger.NewLog(store)
	defer log.Close()

	owner := crypto.PubkeyToAddress(privateKey.PublicKey)

	reg, err := registry.New(registry.Config{
		Precision:    conf.Precision,
		MaxPrecision: conf.MaxPrecision,
		Owner:        owner,
		Ledger:       log,
	})
	if err != nil {
		logs.Fatal(errors.New("creating registry failed").Wrap(err))
	}

	rasterizer, err := raster.New(conf.MaxPrecision)
	if err != nil {
		logs.Fatal(errors.New("creating rasterizer failed").Wrap(err))
	}

	for _, identity := range conf.AllowedUsers {
		identity = strings.TrimSpace(identity)
		if !common.IsHexAddress(identity) {
			logs.Fatal(errors.New("allow-listed identity is malformed").
				WithTag("identity", identity))
		}
		if err := reg.AllowUser(common.HexToAddress(identity), owner); err != nil {
			logs.Fatal(errors.New("bootstrapping allow-list failed").Wrap(err))
		}
	}

	flags := featureflag.New(conf.FeatureFlags)

	api := raidohttp.Handler{
		Registry:     reg,
		Rasterizer:   rasterizer,
		Ledger:       log,
		FeatureFlags: flags,
	}

	var service http.ServeMux
	handle := func(pattern string, h http.HandlerFunc) {
		service.Handle(pattern, raidohttp.HandleWithCORS(h))
	}

	handle("POST /volumes", api.HandleUpsertVolume)
	handle("DELETE /volumes/{id}", api.HandleDeleteVolume)
	handle("GET /volumes/{id}", api.HandleGetVolume)
	handle("GET /query", api.HandleQuery)
	handle("GET /events", api.HandleEvents)
	handle("POST /rasterize", api.HandleRasterize)
	handle("POST /allowlist", api.HandleAllowUser)
	handle("DELETE /allowlist/{identity}", api.HandleRevokeUser)
	handle("POST /owner", api.HandleTransferOwner)

	service.HandleFunc("GET /health", raidohttp.HandleHealthCheck)
	service.HandleFunc("GET /version", raidohttp.HandleVersion(version))

	readinessCheck := func() bool {
		_, err := log.Head()
		return err == nil
	}
	service.HandleFunc("GET /ready", raidohttp.HandleReadyCheck(readinessCheck))

	service.Handle("POST /smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		Precision: conf.Precision,
		Key:       privateKey,
		UserAgent: fmt.Sprintf("Raido %s", version),
		Transport: transport,
	}))

	flags.IfNotSet(featureflag.FlagDisableEventStream, func() {
		streamer := raidows.EventStreamer{Ledger: log}
		service.Handle("GET /events/live", websocket.Server{
			Handler: func(conn *websocket.Conn) {
				defer conn.Close()
				streamer.Handle(ctx, conn)
			},
		})
	})

	if conf.ForwardEndpoint != "" {
		flags.IfNotSet(featureflag.FlagDisableEventForwarding, func() {
			forwarder := forward.Forwarder{
				Endpoint:  conf.ForwardEndpoint,
				Ledger:    log,
				Key:       privateKey,
				Transport: transport,
			}
			forwarder.Start(ctx)
		})
	}

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", raidohttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.HandleFunc("/ready", raidohttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("precision", conf.Precision).
		WithTag("owner", strings.ToLower(owner.Hex())).
		Info("starting raido server")

	raidohttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			raidohttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if len(conf.PrivateKey) != 0 &&
		len(conf.PrivateKeyFile) != 0 {
		return errors.New("have to specify either private key or private key file, not both")
	}

	if len(conf.PrivateKey) == 0 &&
		len(conf.PrivateKeyFile) == 0 {
		return errors.New("have to specify either private key or private key file")
	}

	return nil
}

func loadPrivateKey(conf config) (*ecdsa.PrivateKey, error) {
	privateKey := conf.PrivateKey

	if len(conf.PrivateKeyFile) != 0 {
		privateKeyBytes, err := os.ReadFile(conf.PrivateKeyFile)
		if err != nil {
			return nil, errors.New("error loading private key from file").
				WithTag("file_name", conf.PrivateKeyFile).
				Wrap(err)
		}
		privateKey = string(privateKeyBytes)
	}

	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")

	if len(privateKey) == 0 {
		return nil, errors.New("private key is empty")
	}

	return crypto.HexToECDSA(privateKey)
}
