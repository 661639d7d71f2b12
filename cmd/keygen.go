package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	"github.com/gepd/gepd/cmd/common"
	"github.com/gepd/gepd/pkg/gep"
	"github.com/gepd/gepd/pkg/ndn"
	"github.com/gepd/gepd/pkg/store"
)

// keygen generates every slot of one window offline and waits until the repo
// has settled each slot's push.
func keygen(ctx *cli.Context) error {
	e, err := loadEnv(ctx, "keygen")
	if err != nil {
		return err
	}
	defer e.log.Close()
	cfg := e.cfg
	mcfg, _ := cfg.ManagerRuntime()
	if s := ctx.String("epoch"); s != "" {
		t, err := time.Parse(ndn.TimestampFormat, s)
		if err != nil {
			return fmt.Errorf("epoch %q: want %s", s, ndn.TimestampFormat)
		}
		mcfg.Epoch = t
	}
	if w := ctx.Duration("window"); w > 0 {
		mcfg.Window = w
	}
	if err := mcfg.Validate(); err != nil {
		return err
	}
	prefix, dataType, _ := cfg.GroupNames()
	schedule, _ := cfg.Schedule()

	kc, err := openKeychain(prefix, cfg.Manager.KeyDir, cfg.Manager.KeySize)
	if err != nil {
		return err
	}
	db, err := gep.OpenGroupManagerDB(cfg.Manager.DB)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	defer func() {
		db.Close()
		if err := appFs.Remove(cfg.Manager.DB); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.log.Warning("Remove %s: %v", cfg.Manager.DB, err)
		}
	}()
	gm := gep.NewGroupManager(prefix, dataType, db, cfg.Manager.KeySize, cfg.Manager.KeyFreshnessHours, kc)
	if _, err := gm.Schedule(mcfg.Schedule); errors.Is(err, gep.ErrScheduleNotFound) {
		if err := gm.AddSchedule(mcfg.Schedule, schedule); err != nil {
			return fmt.Errorf("keygen: %w", err)
		}
	}

	steps := mcfg.Steps()
	outcomes := make(chan store.Push, steps)
	client, err := store.Open(cfg.RepoAddr(), e.log, store.Options{
		Retry:      cfg.StoreRetry(),
		AckTimeout: cfg.Repo.AckTimeout,
		OnOutcome:  func(p store.Push) { outcomes <- p },
	})
	if err != nil {
		return err
	}
	defer client.Close()

	p := mpb.New(mpb.WithOutput(common.Out))
	bar := common.InitKeygenBar(p, steps)
	sent := 0
	var genErr error
	for s := 0; s < steps; s++ {
		slot := mcfg.Epoch.Add(time.Duration(s) * mcfg.Step)
		keys, err := gm.GroupKey(slot)
		if err != nil {
			genErr = fmt.Errorf("slot %s: %w", slot.Format(ndn.TimestampFormat), err)
			break
		}
		for _, k := range keys {
			e.log.Info("KEY: %s", k.Name)
		}
		if _, err := client.Push(keys); err != nil {
			genErr = err
			break
		}
		sent++
	}

	failed := 0
	for n := sent; n > 0; n-- {
		if pu := <-outcomes; pu.State != store.Acked {
			failed++
		}
		bar.Increment()
	}
	if genErr != nil {
		bar.Abort(false)
	}
	p.Wait()

	fmt.Fprintf(common.Out, "Generated %d of %d slots from %s, %d rejected by the repo\n",
		sent, steps, mcfg.Epoch.Format(ndn.TimestampFormat), failed)
	if genErr != nil {
		return genErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pushes failed", failed, sent)
	}
	return nil
}
