package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/gepd/gepd/internal/admin"
	"github.com/gepd/gepd/internal/daemon"
	"github.com/gepd/gepd/internal/hub"
	"github.com/gepd/gepd/internal/manager"
	"github.com/gepd/gepd/internal/producer"
	"github.com/gepd/gepd/internal/repo"
	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/gep"
	"github.com/gepd/gepd/pkg/ndn"
	"github.com/gepd/gepd/pkg/store"
)

func runHub(ctx *cli.Context) error {
	e, err := loadEnv(ctx, "hub")
	if err != nil {
		return err
	}
	defer e.log.Close()
	srv := hub.NewServer(e.log, e.cfg.HubRuntime())
	r := e.runner("hub", "")
	r.Add(daemon.Component{Name: "hub", Run: srv.Start, Close: srv.Shutdown})
	return startRunner(r, e.log)
}

func runRepo(ctx *cli.Context) error {
	e, err := loadEnv(ctx, "repo")
	if err != nil {
		return err
	}
	defer e.log.Close()
	storage, err := repo.OpenStorage(e.cfg.Repo.DB)
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	srv := repo.NewServer(e.log, storage)
	r := e.runner("repo", "")
	r.Add(daemon.Component{Name: "storage", Close: storage.Close})
	addr := e.cfg.RepoAddr()
	r.Add(daemon.Component{
		Name:  "repo",
		Run:   func(ctx context.Context) error { return srv.Start(ctx, addr) },
		Close: srv.Shutdown,
	})

	if prefixes := e.cfg.ServePrefixes(); len(prefixes) > 0 {
		loop := face.NewLoop()
		f, err := e.dialHub(loop)
		if err != nil {
			storage.Close()
			return err
		}
		r.Add(loopComponent(loop))
		r.Add(faceComponent(f))
		r.Add(daemon.Component{
			Name: "serve",
			Run: func(ctx context.Context) error {
				if err := srv.ServeHub(ctx, f, prefixes); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			},
		})
	}
	return startRunner(r, e.log)
}

func runManager(ctx *cli.Context) error {
	e, err := loadEnv(ctx, "manager")
	if err != nil {
		return err
	}
	defer e.log.Close()
	cfg := e.cfg
	// Validate has already parsed every field read below.
	mcfg, _ := cfg.ManagerRuntime()
	prefix, dataType, _ := cfg.GroupNames()
	schedule, _ := cfg.Schedule()

	kc, err := openKeychain(prefix, cfg.Manager.KeyDir, cfg.Manager.KeySize)
	if err != nil {
		return err
	}
	db, err := gep.OpenGroupManagerDB(cfg.Manager.DB)
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	r := e.runner("manager", cfg.Manager.DB)
	r.Add(daemon.Component{Name: "db", Close: db.Close})
	gm := gep.NewGroupManager(prefix, dataType, db, cfg.Manager.KeySize, cfg.Manager.KeyFreshnessHours, kc)

	var adm *admin.Server
	client, err := store.Open(cfg.RepoAddr(), e.log, store.Options{
		Retry:      cfg.StoreRetry(),
		AckTimeout: cfg.Repo.AckTimeout,
		OnOutcome: func(p store.Push) {
			if adm != nil {
				adm.StoreAck(p)
			}
		},
	})
	if err != nil {
		db.Close()
		return err
	}
	r.Add(daemon.Component{Name: "store", Close: client.Close})

	loop := face.NewLoop()
	f, err := e.dialHub(loop)
	if err != nil {
		client.Close()
		db.Close()
		return err
	}
	m := manager.New(mcfg, gm, f, loop, client, kc, e.log)
	if err := m.EnsureSchedule(schedule); err != nil {
		f.Close()
		client.Close()
		db.Close()
		return fmt.Errorf("manager: %w", err)
	}
	adm = e.adminServer(admin.Sources{Manager: m, Store: client.Tracker()})
	if adm != nil {
		m.OnProgress(adm.KeysProgress)
	}

	r.Add(loopComponent(loop))
	r.Add(faceComponent(f))
	r.Add(daemon.Component{
		Name: "manager",
		Run: func(ctx context.Context) error {
			if err := m.Start(ctx); err != nil {
				return err
			}
			if expr := cfg.Manager.Regenerate; expr != "" {
				next, err := m.EnableRegeneration(ctx, expr)
				if err != nil {
					return fmt.Errorf("regenerate %q: %w", expr, err)
				}
				e.log.Info("Next key regeneration at %s", next.Format("2006-01-02 15:04"))
			}
			<-ctx.Done()
			return nil
		},
	})
	if adm != nil {
		r.Add(e.adminComponent(adm))
	}
	return startRunner(r, e.log)
}

func runProducer(ctx *cli.Context) error {
	e, err := loadEnv(ctx, "producer")
	if err != nil {
		return err
	}
	defer e.log.Close()
	cfg := e.cfg
	pcfg, _ := cfg.ProducerRuntime()
	slot, _ := cfg.ProducerSlot()
	payload, _ := cfg.ProducerPayload()

	kc, err := openKeychain(pcfg.Prefix, cfg.Producer.KeyDir, cfg.Manager.KeySize)
	if err != nil {
		return err
	}
	db, err := gep.OpenProducerDB(cfg.Producer.DB)
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	r := e.runner("producer", cfg.Producer.DB)
	r.Add(daemon.Component{Name: "db", Close: db.Close})

	loop := face.NewLoop()
	f, err := e.dialHub(loop)
	if err != nil {
		db.Close()
		return err
	}
	svc := producer.New(pcfg, db, f, kc, e.log)
	r.Add(loopComponent(loop))
	r.Add(faceComponent(f))
	r.Add(daemon.Component{
		Name: "producer",
		Run: func(ctx context.Context) error {
			if err := svc.Start(ctx); err != nil {
				return err
			}
			loop.Post(func() {
				if _, err := svc.Setup(slot, payload); err != nil {
					e.log.Error("Setup %s: %v", slot.Format(ndn.TimestampFormat), err)
				}
			})
			<-ctx.Done()
			return nil
		},
	})
	if adm := e.adminServer(admin.Sources{Producer: svc}); adm != nil {
		r.Add(e.adminComponent(adm))
	}
	return startRunner(r, e.log)
}
