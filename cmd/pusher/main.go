/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * rtsp-pusher
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of rtsp-pusher.
 *
 * rtsp-pusher is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * rtsp-pusher is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with rtsp-pusher.  If not, see <https://www.gnu.org/licenses/>.
 */

// Command pusher runs the capture → encode → mux → RTSP-push pipeline
// described by a settings file written by an external collaborator (the
// GUI this module does not implement, per spec §1). It takes no CLI
// flags; all parameters come from the YAML settings file.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e1z0/rtsp-pusher/internal/config"
	"github.com/e1z0/rtsp-pusher/internal/pevent"
	"github.com/e1z0/rtsp-pusher/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(log); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	path, err := config.DefaultPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log.Info("loaded stream settings", "path", path, "rtsp_url", cfg.RTSPURL,
		"width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := pipeline.New("pusher", log)

	if err := ctrl.Start(ctx, cfg); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ctrl.Events() {
			logEvent(log, ev)
		}
	}()

	<-ctx.Done()
	log.Info("stop signal received, shutting down")

	if err := ctrl.Stop(context.Background()); err != nil {
		return err
	}

	<-done
	return nil
}

func logEvent(log *slog.Logger, ev pevent.Event) {
	switch ev.Kind {
	case pevent.EventStateChange:
		log.Info("state change", "controller", ev.State.Name, "state", ev.State.State.String())
	case pevent.EventError:
		var pe *pevent.PipelineError
		if errors.As(ev.Err, &pe) {
			log.Error("pipeline error", "kind", pe.Kind.String(), "stage", pe.Stage, "error", pe.Err)
		} else {
			log.Error("pipeline error", "error", ev.Err)
		}
	case pevent.EventStats:
		log.Info("stats", "frames_written", ev.Stats.FramesWritten, "effective_bitrate_bps", ev.Stats.EffectiveBitrateBPS)
	}
}
