/*
Copyright © 2021 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"

	"github.com/namvu9/seedbox/internal/download"
	"github.com/namvu9/seedbox/internal/session"
	"github.com/namvu9/seedbox/pkg/btorrent"
)

var (
	peerSpecs   []string
	keepSeeding bool
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <torrent>",
	Short: "Download a torrent from the given peers",
	Long: `This command downloads the file described by a torrent from the peers given with --peer. Pieces are verified against the hashes of the torrent and written to the download directory.

A peer holds every piece unless its spec lists the pieces it has.

Examples:

seedbox download --peer 10.0.0.2:6881 /path/to/file.torrent
seedbox download --peer 10.0.0.2:6881=0-99 --peer 10.0.0.3:6881=100-199 /path/to/file.torrent
seedbox download --seed --peer 10.0.0.2:6881 /path/to/file.torrent
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := btorrent.Load(args[0])
		if err != nil {
			return fmt.Errorf("could not load torrent: %w", err)
		}

		peers, err := ParsePeers(peerSpecs, t.PieceCount)
		if err != nil {
			return err
		}

		cfg, err := sessionConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		s := session.New(cfg)
		if err := s.Init(ctx); err != nil {
			return fmt.Errorf("could not start session: %w", err)
		}
		defer s.Close()

		events, unsubscribe := s.Subscribe(256)
		defer unsubscribe()

		if err := s.Download(t, peers); err != nil {
			return err
		}

		stat := func() (download.ManagerStat, bool) {
			for _, d := range s.Stats().Downloads {
				if d.Name == t.ID() {
					return d, true
				}
			}

			return download.ManagerStat{}, false
		}

		if !track(ctx, t, events, stat, time.Second) {
			return nil
		}

		fmt.Printf("Downloaded %s to %s\n", t.Name, cfg.DownloadDir)

		if keepSeeding {
			fmt.Printf("Seeding on %s\n", s.Addr())
			<-ctx.Done()
		}

		return nil
	},
}

// track shows the progress of t until it is finished or ctx
// is done. It reports whether t finished. Events may be
// dropped, so the stats of t are also polled every interval.
func track(ctx context.Context, t btorrent.Torrent, events <-chan interface{}, stat func() (download.ManagerStat, bool), interval time.Duration) bool {
	var failures int64

	uiprogress.Start()
	defer uiprogress.Stop()

	bar := uiprogress.AddBar(t.PieceCount)
	bar.AppendCompleted()
	bar.AppendFunc(func(b *uiprogress.Bar) string {
		return "pieces: " + strconv.Itoa(b.Current()) + "/" + strconv.Itoa(t.PieceCount)
	})
	bar.AppendFunc(func(b *uiprogress.Bar) string {
		return "failed fetches: " + strconv.FormatInt(atomic.LoadInt64(&failures), 10)
	})
	bar.PrependElapsed()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			d, ok := stat()
			if !ok {
				continue
			}

			bar.Set(d.Pieces)
			atomic.StoreInt64(&failures, int64(d.Failures))

			if d.State == download.Done.String() {
				return true
			}
		case ev, ok := <-events:
			if !ok {
				// Only polling is left
				events = nil
				continue
			}

			switch v := ev.(type) {
			case download.PieceDownloaded:
				if v.Torrent == t.ID() {
					bar.Incr()
				}
			case download.FetchFailed:
				if v.Torrent == t.ID() {
					atomic.AddInt64(&failures, 1)
				}
			case download.TorrentFinished:
				if v.Torrent == t.ID() {
					bar.Set(t.PieceCount)
					return true
				}
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().
		StringArrayVarP(&peerSpecs, "peer", "p", nil, "peer to download from, as host:port or host:port=pieces")
	downloadCmd.Flags().
		BoolVar(&keepSeeding, "seed", false, "keep seeding once the download is finished")
	downloadCmd.MarkFlagRequired("peer")
}
