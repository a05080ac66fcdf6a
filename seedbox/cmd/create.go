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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/size"
)

var (
	pieceLength int64
	outFile     string
)

var createCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "Create a torrent describing a file",
	Long: `This command hashes every piece of a file and writes the resulting torrent.

Example:

seedbox create --piece-length 262144 -o movie.torrent movie.mkv
`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		t, err := btorrent.Create(filepath.Base(args[0]), data, pieceLength)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		out := outFile
		if out == "" {
			out = t.Name + ".torrent"
		}

		if err := btorrent.Save(out, t); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		fmt.Printf("%s: %d pieces of %s (%s)\n", out, t.PieceCount, size.Size(t.PieceLength), t.HexHash())
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().Int64Var(&pieceLength, "piece-length", 256*1024, "piece length in bytes")
	createCmd.Flags().StringVarP(&outFile, "out", "o", "", "where to write the torrent")
}
