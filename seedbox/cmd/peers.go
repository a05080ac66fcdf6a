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
	"net"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/namvu9/seedbox/internal/download"
)

// ParsePeers reads peer specs of the form host:port, meaning
// the peer holds every piece, or host:port=pieces, where
// pieces is a comma separated list of indices and inclusive
// ranges such as 0-3,7
func ParsePeers(specs []string, pieceCount int) (download.PeerPieceMap, error) {
	peers := make(download.PeerPieceMap)

	for _, spec := range specs {
		addr, pieces, hasPieces := strings.Cut(spec, "=")

		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("peer %q: %w", spec, err)
		}

		if !hasPieces {
			all := download.NewPeerPieceMap(pieceCount, addr)
			peers[addr] = all[addr]
			continue
		}

		set, err := parsePieces(pieces, pieceCount)
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", spec, err)
		}

		if existing, ok := peers[addr]; ok {
			set = existing.Union(set)
		}
		peers[addr] = set
	}

	return peers, nil
}

func parsePieces(s string, pieceCount int) (mapset.Set[int], error) {
	set := mapset.NewThreadUnsafeSet[int]()

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		from, to, isRange := strings.Cut(part, "-")

		start, err := strconv.Atoi(from)
		if err != nil {
			return nil, fmt.Errorf("bad piece index %q", from)
		}

		end := start
		if isRange {
			end, err = strconv.Atoi(to)
			if err != nil {
				return nil, fmt.Errorf("bad piece index %q", to)
			}
		}

		if start < 0 || end >= pieceCount || start > end {
			return nil, fmt.Errorf("pieces %q out of range [0, %d)", part, pieceCount)
		}

		for i := start; i <= end; i++ {
			set.Add(i)
		}
	}

	if set.Cardinality() == 0 {
		return nil, fmt.Errorf("no pieces in %q", s)
	}

	return set, nil
}
