package trust

import (
	"fmt"
	"time"
)

// Type identifies a keyring's role in the trust hierarchy. The set is closed;
// anything else in a descriptor is malformed.
type Type string

const (
	ArchiveMaster Type = "archive-master"
	ImageMaster   Type = "image-master"
	ImageSigning  Type = "image-signing"
	DeviceSigning Type = "device-signing"
	Blacklist     Type = "blacklist"
)

// signerOf is the static trust hierarchy: each keyring type must be signed by
// its entry here before it is accepted. archive-master is absent because it
// is the pre-provisioned root of trust and is never verified.
var signerOf = map[Type]Type{
	ImageMaster:   ArchiveMaster,
	ImageSigning:  ImageMaster,
	Blacklist:     ImageMaster,
	DeviceSigning: ImageSigning,
}

// ParseType validates a descriptor type string against the closed set.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case ArchiveMaster, ImageMaster, ImageSigning, DeviceSigning, Blacklist:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown keyring type %q", ErrMalformedKeyring, s)
	}
}

// descriptor is the keyring.json payload inside a keyring archive. Expiry is
// seconds since epoch; zero means the keyring never expires.
type descriptor struct {
	Type   string `json:"type"`
	Expiry int64  `json:"expiry,omitempty"`
}

// Keyring is an installed keyring: its type, the persisted key-material path
// inside the trust store, and where the archive was loaded from.
type Keyring struct {
	Type     Type
	Path     string
	Origin   string
	Expiry   time.Time
	LoadedAt time.Time
}
