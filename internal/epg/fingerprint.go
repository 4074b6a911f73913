package epg

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/jmylchreest/epgviewer/internal/models"
	"github.com/jmylchreest/epgviewer/internal/storage"
)

// Artifact kinds participating in fingerprints. Kind is part of the hash,
// so keys never collide across kinds.
const (
	KindEpg       = "epg"
	KindExportGz  = "export-gz"
	KindExportXml = "export-xml"
	KindChannel   = "channel"
)

// mappingSig is the fingerprint-relevant subset of a channel mapping.
type mappingSig struct {
	ChannelID    string           `json:"channelId"`
	SourceID     string           `json:"sourceId,omitempty"`
	EpgChannelID string           `json:"epgChannelId,omitempty"`
	Offset       int              `json:"offset,omitempty"`
	Zone         string           `json:"zone,omitempty"`
	Mode         models.ShiftMode `json:"mode,omitempty"`
}

// FingerprintKey collects every input that can affect an artifact's bytes.
// Slices are sorted before hashing so the serialization is canonical.
type FingerprintKey struct {
	Kind        string                    `json:"kind"`
	Mirrors     []storage.MirrorSignature `json:"mirrors,omitempty"`
	PlaylistIDs []string                  `json:"playlistIds,omitempty"`
	Mappings    []mappingSig              `json:"mappings,omitempty"`
	FromUnix    int64                     `json:"from,omitempty"`
	ToUnix      int64                     `json:"to,omitempty"`
	Full        bool                      `json:"full,omitempty"`
}

// NewFingerprintKey canonicalizes the assembly inputs for hashing. Only
// mappings for channels in the playlist set contribute.
func NewFingerprintKey(kind string, mirrors []storage.MirrorSignature, playlistIDs []string, mappings map[string]models.ChannelMapping, from, to time.Time, full bool) FingerprintKey {
	key := FingerprintKey{Kind: kind, Full: full}

	key.Mirrors = append(key.Mirrors, mirrors...)
	sort.Slice(key.Mirrors, func(i, j int) bool { return key.Mirrors[i].URL < key.Mirrors[j].URL })

	key.PlaylistIDs = append(key.PlaylistIDs, playlistIDs...)
	sort.Strings(key.PlaylistIDs)

	inPlaylist := make(map[string]struct{}, len(playlistIDs))
	for _, id := range playlistIDs {
		inPlaylist[id] = struct{}{}
	}
	for id, m := range mappings {
		if len(playlistIDs) > 0 {
			if _, ok := inPlaylist[id]; !ok {
				continue
			}
		}
		key.Mappings = append(key.Mappings, mappingSig{
			ChannelID:    id,
			SourceID:     m.SourceID.String(),
			EpgChannelID: m.EpgChannelID,
			Offset:       m.OffsetMinutes,
			Zone:         m.ZoneID,
			Mode:         m.Mode,
		})
	}
	sort.Slice(key.Mappings, func(i, j int) bool { return key.Mappings[i].ChannelID < key.Mappings[j].ChannelID })

	if !full {
		key.FromUnix = from.Unix()
		key.ToUnix = to.Unix()
	}
	return key
}

// Hash returns the stable hex fingerprint of the key.
//
// Struct fields serialize in declaration order and all slices are sorted,
// so equal inputs always produce equal bytes.
func (k FingerprintKey) Hash() string {
	data, err := json.Marshal(k)
	if err != nil {
		// Marshal of plain structs and strings cannot fail; guard anyway.
		data = []byte(k.Kind)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
