package cmd

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/zalando/go-keyring"

	"github.com/gepd/gepd/cmd/common"
	"github.com/gepd/gepd/internal/config"
	"github.com/gepd/gepd/internal/hub"
	"github.com/gepd/gepd/internal/repo"
	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
)

// sandbox points file access at memory and captures user output.
func sandbox(t *testing.T) (*bytes.Buffer, afero.Fs) {
	t.Helper()
	var out bytes.Buffer
	fs := afero.NewMemMapFs()
	origOut, origFs, origLog := common.Out, appFs, logOut
	common.Out, appFs, logOut = &out, fs, io.Discard
	t.Cleanup(func() { common.Out, appFs, logOut = origOut, origFs, origLog })
	keyring.MockInit()
	return &out, fs
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	return Execute(append([]string{"gepd"}, args...), BuildArgs{Version: "1.0.0", BuildType: "test", Commit: "abc"})
}

// startHub serves a hub on a loopback port and returns the port.
func startHub(t *testing.T) (*hub.Server, int) {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	s := hub.NewServer(logger.NewNopLogger(), hub.Config{ForceTCP: true})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx, l)
	return s, l.Addr().(*net.TCPAddr).Port
}

// serveOn registers prefix on the hub and answers every interest with d.
func serveOn(t *testing.T, port int, prefix string, d *ndn.Data) {
	t.Helper()
	loop := face.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	f, err := face.Dial("tcp", fmt.Sprintf("localhost:%d", port), loop, logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		f.Close()
	})
	regCtx, regCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer regCancel()
	err = f.RegisterPrefix(regCtx, ndn.MustParseName(prefix), func(_ ndn.Name, i *ndn.Interest) {
		reply := d.Clone()
		reply.Name = i.Name
		f.Put(reply)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestVersion(t *testing.T) {
	out, _ := sandbox(t)
	if err := run(t, "version"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "gepd 1.0.0-test") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestApplyOverrides(t *testing.T) {
	parse := func(args ...string) *cli.Context {
		set := flag.NewFlagSet("gepd", flag.ContinueOnError)
		for _, f := range globalFlags {
			f.Apply(set)
		}
		if err := set.Parse(args); err != nil {
			t.Fatal(err)
		}
		return cli.NewContext(cli.NewApp(), set, nil)
	}

	cfg := config.Default()
	err := applyOverrides(parse("--hub-port", "7000", "--force-tcp", "--repo", "10.0.0.5:9000", "--admin-secret", "s3", "--log-file", "/var/log/gepd.log"), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Hub.Port != 7000 || !cfg.Hub.ForceTCP {
		t.Errorf("hub = %+v", cfg.Hub)
	}
	if cfg.RepoAddr() != "10.0.0.5:9000" {
		t.Errorf("repo addr = %s", cfg.RepoAddr())
	}
	if cfg.Admin.Secret != "s3" {
		t.Errorf("admin secret = %q", cfg.Admin.Secret)
	}
	if cfg.LogFile != "/var/log/gepd.log" {
		t.Errorf("log file = %q", cfg.LogFile)
	}

	for _, bad := range []string{"nohost", "host:port"} {
		if err := applyOverrides(parse("--repo", bad), config.Default()); err == nil {
			t.Errorf("--repo %s accepted", bad)
		}
	}
}

func TestLogFileCopiesConsole(t *testing.T) {
	_, fs := sandbox(t)
	var console bytes.Buffer
	logOut = &console

	l, err := newLogger("/gepd.log", "manager")
	if err != nil {
		t.Fatal(err)
	}
	l.Info("<< I: %s", "/org/openmhealth/zhehao/read_access_request/alice")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := afero.ReadFile(fs, "/gepd.log")
	if err != nil {
		t.Fatal(err)
	}
	for name, got := range map[string]string{"console": console.String(), "file": string(b)} {
		if !strings.Contains(got, "[manager] ") || !strings.Contains(got, "<< I: /org/openmhealth/zhehao/read_access_request/alice") {
			t.Errorf("%s = %q", name, got)
		}
	}

	if l, err := newLogger("", "hub"); err != nil {
		t.Fatal(err)
	} else if _, ok := l.(*logger.StandardLogger); !ok {
		t.Errorf("logger without a file = %T, want console only", l)
	}
}

func TestMissingConfigFile(t *testing.T) {
	sandbox(t)
	err := run(t, "--config", "/etc/gepd.yaml", "fetch", "/a")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("err = %v", err)
	}
}

func TestFetchPrintsData(t *testing.T) {
	out, _ := sandbox(t)
	_, port := startHub(t)
	d := ndn.NewData(nil, []byte("hello"))
	d.MetaInfo.FreshnessPeriod = 10 * time.Second
	serveOn(t, port, "/org/openmhealth/zhehao/SAMPLE", d)

	name := "/org/openmhealth/zhehao/SAMPLE/fitness/20160321T090000"
	if err := run(t, "--force-tcp", "--hub-port", fmt.Sprint(port), "fetch", name); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{">> I: " + name, "<< D: " + name, "Freshness: 10s", "Content (5 bytes)", "68 65 6c 6c 6f"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRequestUsesAccessPrefix(t *testing.T) {
	out, _ := sandbox(t)
	_, port := startHub(t)
	serveOn(t, port, "/org/openmhealth/zhehao/read_access_request", ndn.NewData(nil, nil))

	if err := run(t, "--force-tcp", "--hub-port", fmt.Sprint(port), "request", "/alice/KEY/1/ID-CERT"); err != nil {
		t.Fatal(err)
	}
	want := "<< D: /org/openmhealth/zhehao/read_access_request/alice/KEY/1/ID-CERT"
	if !strings.Contains(out.String(), want) {
		t.Errorf("output missing %q:\n%s", want, out.String())
	}
}

func TestRequestTimesOut(t *testing.T) {
	out, _ := sandbox(t)
	_, port := startHub(t)

	err := run(t, "--force-tcp", "--hub-port", fmt.Sprint(port), "request", "--lifetime", "100ms", "/alice/KEY/1/ID-CERT")
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("err = %v, want ErrNoReply", err)
	}
	if !strings.Contains(out.String(), "Time out I: /org/openmhealth/zhehao/read_access_request/alice/KEY/1/ID-CERT") {
		t.Errorf("no timeout line:\n%s", out.String())
	}
}

func TestFaceComponentReportsLostHub(t *testing.T) {
	client, server := net.Pipe()
	loop := face.NewLoop()
	f := face.New(client, loop, logger.NewNopLogger())
	c := faceComponent(f)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	server.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrHubLost) {
			t.Fatalf("err = %v, want ErrHubLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("face component did not notice the closed hub")
	}
}

func TestKeygenFillsRepo(t *testing.T) {
	out, fs := sandbox(t)
	storage, err := repo.OpenStorage(filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { storage.Close() })
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go repo.NewServer(logger.NewNopLogger(), storage).Serve(ctx, l)

	yaml := fmt.Sprintf(`
repo:
  host: localhost
  port: %d
manager:
  db: %s
  key_dir: /keys
  key_size: 1024
`, l.Addr().(*net.TCPAddr).Port, filepath.Join(t.TempDir(), "manager-key.db"))
	if err := afero.WriteFile(fs, "/gepd.yaml", []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	err = run(t, "--config", "/gepd.yaml", "keygen", "--epoch", "20160321T080000", "--window", "3h")
	if err != nil {
		t.Fatalf("keygen: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "Generated 3 of 3 slots from 20160321T080000, 0 rejected") {
		t.Errorf("summary missing:\n%s", out.String())
	}
	n, err := storage.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n < 3 {
		t.Errorf("repo holds %d packets, want at least 3", n)
	}
}
