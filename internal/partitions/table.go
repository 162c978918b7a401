package partitions

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUndeterminedPartition means a required logical partition has no entry in
// the table. Fatal only when the operation strictly needs the device, e.g. a
// dedicated-partition data wipe.
var ErrUndeterminedPartition = errors.New("partition could not be determined")

// Table is the static boot-time map from logical mount targets to block
// devices, plus the loop-image location used when the system does not live on
// a dedicated partition.
type Table struct {
	Devices     map[string]string `yaml:"devices"`
	SystemImage string            `yaml:"system_image"`
}

// LoadTable reads the table from its YAML file. A missing file yields an
// empty table: loop-image devices have no partition map at all.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Table{Devices: map[string]string{}}, nil
		}
		return nil, err
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing partition table %s: %w", path, err)
	}
	if t.Devices == nil {
		t.Devices = map[string]string{}
	}
	return &t, nil
}

// Device resolves a logical name to its block device.
func (t *Table) Device(name string) (string, bool) {
	dev, ok := t.Devices[name]
	return dev, ok
}

// MatchImage maps a raw image filename from an extracted payload ("boot.img")
// to the block device it targets, if the table lists one.
func (t *Table) MatchImage(filename string) (string, bool) {
	name, ok := strings.CutSuffix(filename, ".img")
	if !ok {
		return "", false
	}
	return t.Device(name)
}
