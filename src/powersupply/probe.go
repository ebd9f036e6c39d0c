// Package powersupply reads the Linux power_supply class to tell whether external
// power is present and what the battery is doing.
package powersupply

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ryansname/chargectl/src/charge"
)

const (
	DefaultDir         = "/sys/class/power_supply"
	DefaultBatteryNode = "battery"
)

var ErrNoCapacity = errors.New("battery capacity unavailable")

// DirectoryLister lists the subdirectories of a directory with elevated privileges.
type DirectoryLister interface {
	ListDirectories(ctx context.Context, dir string) ([]string, error)
}

// ControlFileReader reads a small sysfs attribute, returning no lines on failure.
type ControlFileReader interface {
	ReadControlFile(path string) []string
}

// Probe answers "is external power present" for the charge controller.
type Probe struct {
	dir         string
	batteryNode string
	lister      DirectoryLister
	reader      ControlFileReader
	now         func() time.Time

	mu       sync.Mutex
	supplies []string // cached privileged listing, nil until the first successful scan
}

// NewProbe creates a probe over dir. batteryNode names the main battery's directory;
// any supply whose name contains it is ignored when looking for external power.
func NewProbe(dir, batteryNode string, lister DirectoryLister, reader ControlFileReader) *Probe {
	if dir == "" {
		dir = DefaultDir
	}
	if batteryNode == "" {
		batteryNode = DefaultBatteryNode
	}
	return &Probe{
		dir:         dir,
		batteryNode: batteryNode,
		lister:      lister,
		reader:      reader,
		now:         time.Now,
	}
}

// IsPlugged checks the battery status and supply online flags first, then falls back
// to the present flag of every auxiliary supply. A failed scan counts as plugged.
func (p *Probe) IsPlugged() bool {
	if p.batteryStatus() == "Charging" {
		return true
	}
	if p.anyOnline() {
		return true
	}

	supplies, err := p.scan()
	if err != nil {
		log.Printf("powersupply: scan failed, assuming plugged: %v\n", err)
		return true
	}
	for _, s := range supplies {
		if p.isBattery(s) {
			continue
		}
		if p.readFlag(filepath.Join(s, "present")) {
			return true
		}
	}
	return false
}

// ReadSample reads the battery's capacity and charging status.
func (p *Probe) ReadSample() (charge.BatterySample, error) {
	raw := p.readAttr(filepath.Join(p.dir, p.batteryNode, "capacity"))
	if raw == "" {
		return charge.BatterySample{}, ErrNoCapacity
	}
	level, err := strconv.Atoi(raw)
	if err != nil {
		return charge.BatterySample{}, fmt.Errorf("%w: %q", ErrNoCapacity, raw)
	}
	level = min(max(level, 0), 100)
	return charge.BatterySample{
		LevelPercent: level,
		IsCharging:   p.batteryStatus() == "Charging",
		At:           p.now(),
	}, nil
}

func (p *Probe) batteryStatus() string {
	return p.readAttr(filepath.Join(p.dir, p.batteryNode, "status"))
}

func (p *Probe) anyOnline() bool {
	matches, _ := filepath.Glob(filepath.Join(p.dir, "*", "online"))
	for _, m := range matches {
		if p.isBattery(filepath.Dir(m)) {
			continue
		}
		if p.readFlag(m) {
			return true
		}
	}
	return false
}

func (p *Probe) isBattery(supplyDir string) bool {
	return strings.Contains(filepath.Base(supplyDir), p.batteryNode)
}

func (p *Probe) scan() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.supplies != nil {
		return p.supplies, nil
	}
	dirs, err := p.lister.ListDirectories(context.Background(), p.dir)
	if err != nil {
		return nil, err
	}
	p.supplies = dirs
	if p.supplies == nil {
		p.supplies = []string{}
	}
	log.Printf("powersupply: found %d supplies under %s\n", len(dirs), p.dir)
	return p.supplies, nil
}

func (p *Probe) readAttr(path string) string {
	return strings.TrimSpace(strings.Join(p.reader.ReadControlFile(path), ""))
}

func (p *Probe) readFlag(path string) bool {
	v, err := strconv.Atoi(p.readAttr(path))
	return err == nil && v == 1
}

// Supplies lists the supply directories, scanning on first use.
func (p *Probe) Supplies() ([]string, error) {
	dirs, err := p.scan()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), dirs...), nil
}
