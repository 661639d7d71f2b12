package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/gepd/gepd/internal/admin"
	"github.com/gepd/gepd/internal/config"
	"github.com/gepd/gepd/internal/daemon"
	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/keychain"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
)

// ErrHubLost ends a role whose hub connection closed under it.
var ErrHubLost = errors.New("hub connection lost")

var (
	appFs  afero.Fs  = afero.NewOsFs()
	logOut io.Writer = os.Stderr
	build  BuildArgs
)

// env is what every command resolves before doing its work.
type env struct {
	cfg *config.Config
	log logger.Logger
}

func loadEnv(ctx *cli.Context, role string) (*env, error) {
	cfg, err := config.Load(appFs, ctx.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(ctx, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l, err := newLogger(cfg.LogFile, role)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: l}, nil
}

// newLogger writes to logOut, fanning out to path when one is configured.
func newLogger(path, role string) (logger.Logger, error) {
	console := logger.New(logOut, role)
	if path == "" {
		return console, nil
	}
	file, err := logger.Open(appFs, path, role)
	if err != nil {
		return nil, err
	}
	return logger.NewMultiLogger(console, file), nil
}

// applyOverrides lets flags and environment variables win over the file.
func applyOverrides(ctx *cli.Context, cfg *config.Config) error {
	if p := ctx.GlobalInt("hub-port"); p > 0 {
		cfg.Hub.Port = p
	}
	if ctx.GlobalBool("force-tcp") {
		cfg.Hub.ForceTCP = true
	}
	if s := ctx.GlobalString("socket"); s != "" {
		cfg.Hub.Socket = s
	}
	if s := ctx.GlobalString("admin-secret"); s != "" {
		cfg.Admin.Secret = s
	}
	if s := ctx.GlobalString("log-file"); s != "" {
		cfg.LogFile = s
	}
	if addr := ctx.GlobalString("repo"); addr != "" {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("repo address %q: %w", addr, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("repo address %q: bad port", addr)
		}
		cfg.Repo.Host, cfg.Repo.Port = host, n
	}
	return nil
}

func (e *env) dialHub(loop *face.Loop) (*face.Face, error) {
	f, err := face.DialHub(hubPath(e.cfg), e.cfg.HubAddr(), e.cfg.Hub.ForceTCP, loop, e.log)
	if err != nil {
		return nil, fmt.Errorf("connect to hub: %w", err)
	}
	return f, nil
}

// keyStore prefers the OS keyring and falls back to PEM files in dir.
func keyStore(dir string) keychain.KeyStore {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = os.TempDir()
		}
		dir = filepath.Join(base, "gepd", "keys")
	}
	return &keychain.FallbackStore{
		Primary:   keychain.NewOSKeyStore(),
		Secondary: keychain.NewFileKeyStore(appFs, dir),
	}
}

func openKeychain(identity ndn.Name, dir string, bits int) (*keychain.Keychain, error) {
	kc, err := keychain.Open(identity, keyStore(dir), bits)
	if err != nil {
		return nil, fmt.Errorf("keychain %s: %w", identity, err)
	}
	return kc, nil
}

// adminServer returns nil unless the admin endpoint is configured.
func (e *env) adminServer(src admin.Sources) *admin.Server {
	if e.cfg.Admin.Port == 0 || e.cfg.Admin.Secret == "" {
		return nil
	}
	return admin.New(admin.Config{
		Secret:  e.cfg.Admin.Secret,
		Version: build.Version,
		Commit:  build.Commit,
	}, src, e.log)
}

func (e *env) adminComponent(s *admin.Server) daemon.Component {
	addr := net.JoinHostPort("localhost", strconv.Itoa(e.cfg.Admin.Port))
	return daemon.Component{
		Name:  "admin",
		Run:   func(ctx context.Context) error { return s.Start(ctx, addr) },
		Close: s.Close,
	}
}

func (e *env) runner(role, keyDB string) *daemon.Runner {
	return daemon.New(&daemon.Config{Role: role, KeyDB: keyDB}, &daemon.Dependencies{Fs: appFs}, e.log)
}

func loopComponent(loop *face.Loop) daemon.Component {
	return daemon.Component{Name: "loop", Run: loop.Run}
}

func faceComponent(f *face.Face) daemon.Component {
	return daemon.Component{
		Name: "face",
		Run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return nil
			case <-f.Done():
				if err := f.Err(); err != nil {
					return fmt.Errorf("%w: %v", ErrHubLost, err)
				}
				return ErrHubLost
			}
		},
		Close: f.Close,
	}
}

// express sends one interest and waits for its data. A nil Data means the
// interest timed out.
func (e *env) express(ctx context.Context, i *ndn.Interest) (*ndn.Data, error) {
	loop := face.NewLoop()
	f, err := e.dialHub(loop)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go loop.Run(ctx)

	result := make(chan *ndn.Data, 1)
	f.ExpressInterest(i,
		func(_ *ndn.Interest, d *ndn.Data) { result <- d },
		func(*ndn.Interest) { result <- nil },
	)
	select {
	case d := <-result:
		return d, nil
	case <-f.Done():
		return nil, ErrHubLost
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
