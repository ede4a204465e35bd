package trait

import (
	"strings"

	"github.com/ethan/nest-nexus-bridge/pkg/config"
)

// traitTypes is the static observe catalog. The upstream schema is walked
// at build time; every trait the projector or dispatcher touches appears
// here, plus the ambient identity/liveness traits every resource carries.
var traitTypes = []string{
	// Weave base traits shared by all device resources
	".weave.trait.description.DeviceIdentityTrait",
	".weave.trait.description.LabelSettingsTrait",
	".weave.trait.heartbeat.LivenessTrait",
	".weave.trait.locale.LocaleSettingsTrait",
	".weave.trait.power.BatteryPowerSourceTrait",
	".weave.trait.telemetry.network.NetworkWiFiTelemetryTrait",

	// Structures
	".nest.trait.structure.StructureInfoTrait",
	".nest.trait.structure.StructureLocationTrait",
	".nest.trait.occupancy.StructureModeTrait",

	// Thermostats
	".nest.trait.hvac.TargetTemperatureSettingsTrait",
	".nest.trait.hvac.EcoModeStateTrait",
	".nest.trait.hvac.EcoModeSettingsTrait",
	".nest.trait.hvac.DisplaySettingsTrait",
	".nest.trait.hvac.FanControlSettingsTrait",
	".nest.trait.hvac.HvacEquipmentCapabilitiesTrait",
	".nest.trait.hvac.RemoteComfortSensingSettingsTrait",
	".nest.trait.hvac.BatteryVoltageTrait",
	".nest.trait.hvac.TemperatureLockSettingsTrait",
	".nest.trait.sensor.TemperatureTrait",
	".nest.trait.sensor.HumidityTrait",

	// Protects
	".nest.trait.safety.SmokeSafetyStateTrait",
	".nest.trait.safety.COSafetyStateTrait",
	".nest.trait.safety.SafetyAlarmSettingsTrait",

	// Cameras and doorbells (native schema)
	".nest.trait.product.camera.CameraMigrationStatusTrait",
	".nest.trait.product.camera.RecordingToggleTrait",
	".nest.trait.product.camera.RecordingToggleSettingsTrait",
	".nest.trait.product.camera.StreamingProtocolTrait",
	".nest.trait.product.camera.AudioSettingsTrait",
	".nest.trait.product.camera.UploadLiveImageTrait",
	".nest.trait.product.doorbell.DoorbellIndoorChimeSettingsTrait",

	// Lifecycle
	".nest.trait.service.ConfigurationDoneTrait",
	".nest.trait.firmware.SoftwareUpdateTrait",
	".nest.trait.located.DeviceLocatedSettingsTrait",

	// Federated camera schema
	".google.trait.product.camera.CameraMigrationStatusTrait",
	".google.trait.product.camera.RecordingToggleTrait",
	".google.trait.product.camera.RecordingToggleSettingsTrait",
	".google.trait.product.camera.StreamingProtocolTrait",
	".google.trait.product.camera.AudioSettingsTrait",
	".google.trait.product.camera.UploadLiveImageTrait",
}

// Catalog returns the trait types one account kind observes. Federated
// accounts carry the google camera schema; native accounts drop the nest
// camera and doorbell traits, which their backend no longer serves.
func Catalog(kind config.AccountKind) []string {
	out := make([]string, 0, len(traitTypes))
	for _, t := range traitTypes {
		if kind == config.AccountNative {
			if strings.HasPrefix(t, ".google.trait.product.camera.") ||
				strings.HasPrefix(t, ".nest.trait.product.camera.") ||
				strings.HasPrefix(t, ".nest.trait.product.doorbell.") {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}
