package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mazrean/blobdir/lock"
)

type LsCmd struct {
	Long bool `kong:"short='l',help='Show length and modification time.'"`
}

func (c *LsCmd) Run(rc *runContext) error {
	names, err := rc.dir.ListAll(rc.ctx)
	if err != nil {
		return err
	}

	if !c.Long {
		for _, name := range names {
			fmt.Fprintln(rc.out, name)
		}
		return nil
	}

	w := tabwriter.NewWriter(rc.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fi, err := rc.dir.Stat(rc.ctx, name)
		if err != nil {
			rc.logger.Warnf("%v", err)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", fi.Length, fi.ModTime.Format(time.RFC3339), name)
	}

	return w.Flush()
}

type StatCmd struct {
	Name string `kong:"arg,help='File name.'"`
}

func (c *StatCmd) Run(rc *runContext) error {
	fi, err := rc.dir.Stat(rc.ctx, c.Name)
	if err != nil {
		return err
	}

	codec := fi.Codec
	if codec == "" {
		codec = "none"
	}

	w := tabwriter.NewWriter(rc.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "name\t%s\n", fi.Name)
	fmt.Fprintf(w, "length\t%d\n", fi.Length)
	fmt.Fprintf(w, "stored\t%d\n", fi.StoredSize)
	fmt.Fprintf(w, "codec\t%s\n", codec)
	fmt.Fprintf(w, "modified\t%s\n", fi.ModTime.Format(time.RFC3339Nano))

	return w.Flush()
}

type CatCmd struct {
	Name string `kong:"arg,help='File name.'"`
}

func (c *CatCmd) Run(rc *runContext) error {
	in, err := rc.dir.OpenInput(rc.ctx, c.Name)
	if err != nil {
		return err
	}
	defer in.Close()

	if _, err := io.Copy(rc.out, in); err != nil {
		return fmt.Errorf("copy %s: %w", c.Name, err)
	}

	return nil
}

type PutCmd struct {
	Name string `kong:"arg,help='File name.'"`
	Path string `kong:"arg,optional,type='existingfile',help='Local file to upload. Reads stdin when omitted.'"`
}

func (c *PutCmd) Run(rc *runContext) error {
	var r io.Reader = os.Stdin
	if c.Path != "" {
		f, err := os.Open(c.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", c.Path, err)
		}
		defer f.Close()
		r = f
	}

	out, err := rc.dir.CreateOutput(rc.ctx, c.Name)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, r); err != nil {
		return errors.Join(fmt.Errorf("write %s: %w", c.Name, err), out.Abort())
	}

	if err := out.CloseContext(rc.ctx); err != nil {
		return err
	}

	rc.logger.Infof("uploaded %s (%d bytes)", c.Name, out.Length())

	return nil
}

type RmCmd struct {
	Names []string `kong:"arg,help='File names.'"`
}

func (c *RmCmd) Run(rc *runContext) error {
	for _, name := range c.Names {
		if err := rc.dir.DeleteFile(rc.ctx, name); err != nil {
			return err
		}
	}

	return nil
}

type LockCmd struct {
	Name string `kong:"arg,help='Lock name.'"`
}

// Run holds the lock until the process is interrupted, refreshing the marker so it never turns stale.
func (c *LockCmd) Run(rc *runContext) error {
	l := rc.dir.MakeLock(c.Name)
	if err := l.TryObtain(rc.ctx); err != nil {
		return err
	}
	fmt.Fprintf(rc.out, "%s held by %s\n", c.Name, l.Holder())

	ticker := time.NewTicker(max(CLI.Config.Lock.StaleAfter/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-rc.ctx.Done():
			// the run context is already canceled
			return l.Release(context.WithoutCancel(rc.ctx))
		case <-ticker.C:
			if err := l.Refresh(rc.ctx); err != nil {
				if errors.Is(err, lock.ErrNotHeld) {
					return fmt.Errorf("lost %s: %w", c.Name, err)
				}
				rc.logger.Warnf("failed to refresh %s: %v", c.Name, err)
			}
		}
	}
}

type UnlockCmd struct {
	Name string `kong:"arg,help='Lock name.'"`
}

func (c *UnlockCmd) Run(rc *runContext) error {
	rc.dir.MakeLock(c.Name)

	return rc.dir.ClearLock(rc.ctx, c.Name)
}

type LockedCmd struct {
	Name string `kong:"arg,help='Lock name.'"`
}

func (c *LockedCmd) Run(rc *runContext) error {
	fmt.Fprintln(rc.out, rc.dir.MakeLock(c.Name).IsLocked(rc.ctx))

	return nil
}

type ClearCacheCmd struct{}

func (c *ClearCacheCmd) Run(rc *runContext) error {
	return rc.dir.ClearCache(rc.ctx)
}
