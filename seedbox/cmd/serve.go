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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/namvu9/seedbox/internal/api"
	"github.com/namvu9/seedbox/internal/session"
	"github.com/namvu9/seedbox/pkg/btorrent"
)

var serveCmd = &cobra.Command{
	Use:   "serve [torrent...]",
	Short: "Seed torrents and serve the HTTP API",
	Long: `This command seeds every complete torrent in the base directory, along with the torrents given as arguments, and serves the HTTP API until interrupted.

The data of a seeded torrent is read from the download directory.

Examples:

seedbox serve
seedbox serve --port 6881 --api 127.0.0.1:8000 /path/to/file.torrent
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := sessionConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		s := session.New(cfg)

		fmt.Printf("Initiating session... ")
		if err := s.Init(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "\n%s\n", err)
			os.Exit(1)
		}
		defer s.Close()
		fmt.Printf("done\n")

		for _, path := range args {
			t, err := btorrent.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Could not load torrent: %s\n", err)
				s.Close()
				os.Exit(1)
			}

			if err := s.Seed(t); err != nil {
				fmt.Fprintf(os.Stderr, "Could not seed %s: %s\n", t.Name, err)
				s.Close()
				os.Exit(1)
			}
		}

		fmt.Printf("Seeding on %s\n", s.Addr())

		router := api.NewRouter(s, s.Metrics().Handler())
		if err := api.Serve(ctx, viper.GetString("api"), router); err != nil {
			log.Error().Err(err).Msg("api stopped")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
