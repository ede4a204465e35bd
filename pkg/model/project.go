package model

import (
	"strings"

	"github.com/ethan/nest-nexus-bridge/pkg/fingerprint"
	"github.com/ethan/nest-nexus-bridge/pkg/logger"
	"github.com/ethan/nest-nexus-bridge/pkg/metrics"
)

// Trait resource type names, by device family. Projection of DEVICE_*
// entries dispatches on device_info.typeName.
var (
	thermostatResources = map[string]bool{
		"nest.resource.NestLearningThermostat3Resource": true,
		"nest.resource.NestAgateDisplayResource":        true,
		"nest.resource.NestOnyxResource":                true,
		"google.resource.GoogleZirconium1Resource":      true,
		"google.resource.GoogleBismuth1Resource":        true,
	}

	sensorResources = map[string]bool{
		"nest.resource.NestKryptoniteResource": true,
	}

	protectResources = map[string]bool{
		"nest.resource.NestProtect2LinePoweredResource":    true,
		"nest.resource.NestProtect2BatteryPoweredResource": true,
	}

	cameraResources = map[string]bool{
		"google.resource.NeonQuartzResource":      true,
		"google.resource.GreenQuartzResource":     true,
		"google.resource.SpencerResource":         true,
		"google.resource.VenusResource":           true,
		"nest.resource.NestCamIndoorResource":     true,
		"nest.resource.NestCamIQResource":         true,
		"nest.resource.NestCamIQOutdoorResource":  true,
		"nest.resource.NestCamOutdoorResource":    true,
		"google.resource.GoogleNewmanResource":    true,
	}

	doorbellResources = map[string]bool{
		"nest.resource.NestHelloResource":     true,
		"google.resource.GoogleCorsoResource": true,
	}
)

// AzizResource is the companion light service resource for floodlight
// cameras. It is never a device of its own; the command dispatcher targets
// it for light writes.
const AzizResource = "google.resource.AzizResource"

// Projector derives canonical device records from the raw store.
// Projection is stateless apart from the thermostat pass writing sensor
// back-refs into the store.
type Projector struct {
	store    *Store
	excluded map[string]bool
	log      *logger.Logger
}

func NewProjector(store *Store, excluded map[string]bool, log *logger.Logger) *Projector {
	if log == nil {
		log = logger.Default()
	}
	if excluded == nil {
		excluded = map[string]bool{}
	}
	return &Projector{store: store, excluded: excluded, log: log.With("component", "projector")}
}

// Project derives the device for one resource id, or ok=false when the id
// does not project (wrong prefix, incomplete value, unprojected kind).
func (p *Projector) Project(id string) (*Device, bool) {
	entry, ok := p.store.Get(id)
	if !ok {
		return nil, false
	}

	switch {
	case strings.HasPrefix(id, "device."):
		return p.projectThermostatREST(entry)
	case strings.HasPrefix(id, "kryptonite."):
		return p.projectSensorREST(entry)
	case strings.HasPrefix(id, "topaz."):
		return p.projectProtectREST(entry)
	case strings.HasPrefix(id, "quartz."):
		return p.projectCameraREST(entry)
	case strings.HasPrefix(id, "structure."):
		return p.projectWeather(entry)
	case strings.HasPrefix(id, "STRUCTURE_"):
		return p.projectWeather(entry)
	case strings.HasPrefix(id, "DEVICE_"):
		return p.projectTraitDevice(entry)
	default:
		return nil, false
	}
}

// ProjectAll derives every device. Thermostats run first so their sensor
// back-refs exist before the sensor pass reads them.
func (p *Projector) ProjectAll() []*Device {
	ids := p.store.IDs()

	counts := map[Kind]float64{}
	var out []*Device

	isThermostat := func(id string) bool {
		if strings.HasPrefix(id, "device.") {
			return true
		}
		if strings.HasPrefix(id, "DEVICE_") {
			if e, ok := p.store.Get(id); ok {
				return thermostatResources[getString(e.Value, "device_info", "typeName")]
			}
		}
		return false
	}

	for _, id := range ids {
		if !isThermostat(id) {
			continue
		}
		if d, ok := p.Project(id); ok {
			out = append(out, d)
			counts[d.Kind]++
		}
	}
	for _, id := range ids {
		if isThermostat(id) {
			continue
		}
		if d, ok := p.Project(id); ok {
			out = append(out, d)
			counts[d.Kind]++
		}
	}

	for kind, n := range counts {
		metrics.DevicesProjected.WithLabelValues(string(kind)).Set(n)
	}
	return out
}

// projectTraitDevice dispatches a DEVICE_* entry on its resource type
func (p *Projector) projectTraitDevice(entry Entry) (*Device, bool) {
	typeName := getString(entry.Value, "device_info", "typeName")
	switch {
	case thermostatResources[typeName]:
		return p.projectThermostatTrait(entry)
	case sensorResources[typeName]:
		return p.projectSensorTrait(entry)
	case protectResources[typeName]:
		// Protect over trait is parsed but not projected; REST covers it
		return nil, false
	case cameraResources[typeName] || doorbellResources[typeName]:
		return p.projectCameraTrait(entry, typeName)
	default:
		return nil, false
	}
}

// finish fills the fields every kind shares
func (p *Projector) finish(d *Device, entry Entry) *Device {
	d.Serial = strings.ToUpper(d.Serial)
	d.UUID = entry.ID
	d.Source = entry.Source
	d.Connection = entry.Connection
	d.Description = fingerprint.SanitizeName(d.Description)
	if d.Manufacturer == "" {
		d.Manufacturer = "Nest"
	}
	if d.Serial != "" {
		d.Username = fingerprint.FormatMAC(fingerprint.Serial(d.Serial))
	}
	d.Excluded = p.excluded[d.Serial]
	return d
}

// shortID strips the bucket prefix from a REST resource id
func shortID(id string) string {
	if i := strings.IndexByte(id, '.'); i >= 0 {
		return id[i+1:]
	}
	return id
}
