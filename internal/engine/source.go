package engine

import (
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"torrentd/internal/domain"
)

// SourceKind discriminates the accepted job locator forms.
type SourceKind string

const (
	SourceMagnet   SourceKind = "magnet"
	SourceInfoHash SourceKind = "infohash"
	SourceURL      SourceKind = "url"
	SourceFile     SourceKind = "file"
)

// Source is a validated job locator. Value holds the magnet URI, hex info
// hash, or original URL; Metainfo holds raw .torrent bytes for uploaded
// files and fetched URLs.
type Source struct {
	Kind     SourceKind
	Value    string
	Metainfo []byte
}

// ParseSource classifies a textual locator as a magnet URI, a bare 40-hex
// info hash, or an http(s) URL pointing at a .torrent file.
func ParseSource(raw string) (Source, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Source{}, fmt.Errorf("%w: empty source", domain.ErrInvalidInput)
	}
	switch {
	case strings.HasPrefix(strings.ToLower(s), "magnet:"):
		if err := validateMagnet(s); err != nil {
			return Source{}, err
		}
		return Source{Kind: SourceMagnet, Value: s}, nil
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		if _, err := url.ParseRequestURI(s); err != nil {
			return Source{}, fmt.Errorf("%w: malformed URL: %v", domain.ErrInvalidInput, err)
		}
		return Source{Kind: SourceURL, Value: s}, nil
	case isHexInfoHash(s):
		return Source{Kind: SourceInfoHash, Value: strings.ToLower(s)}, nil
	}
	return Source{}, fmt.Errorf("%w: source is not a magnet link, info hash, or torrent URL", domain.ErrInvalidInput)
}

// SourceFromBytes validates uploaded or fetched .torrent content. The
// bencode sniff runs first so garbage gets a clear message before the
// full metainfo parse.
func SourceFromBytes(data []byte) (Source, error) {
	if len(data) == 0 {
		return Source{}, fmt.Errorf("%w: empty torrent file", domain.ErrInvalidInput)
	}
	if data[0] != 'd' {
		return Source{}, fmt.Errorf("%w: content is not a bencoded torrent file", domain.ErrInvalidInput)
	}
	if _, err := metainfo.Load(bytes.NewReader(data)); err != nil {
		return Source{}, fmt.Errorf("%w: parse torrent file: %v", domain.ErrInvalidInput, err)
	}
	return Source{Kind: SourceFile, Metainfo: data}, nil
}

// validateMagnet checks the xt parameter for a btih info hash in hex or
// base32 form.
func validateMagnet(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: parse magnet link: %v", domain.ErrInvalidInput, err)
	}
	if parsed.Scheme != "magnet" {
		return fmt.Errorf("%w: not a magnet link", domain.ErrInvalidInput)
	}
	values, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		return fmt.Errorf("%w: parse magnet query: %v", domain.ErrInvalidInput, err)
	}
	for _, xt := range values["xt"] {
		if !strings.HasPrefix(strings.ToLower(xt), "urn:btih:") {
			continue
		}
		hash := strings.TrimSpace(xt[len("urn:btih:"):])
		switch len(hash) {
		case 40:
			if _, err := hex.DecodeString(hash); err == nil {
				return nil
			}
		case 32:
			decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(hash))
			if err == nil && len(decoded) == 20 {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: magnet link is missing a btih info hash", domain.ErrInvalidInput)
}

func isHexInfoHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
