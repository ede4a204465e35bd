package model

// Kind is the canonical device kind
type Kind string

const (
	KindThermostat Kind = "thermostat"
	KindTempSensor Kind = "temp_sensor"
	KindProtect    Kind = "protect"
	KindCamera     Kind = "camera"
	KindDoorbell   Kind = "doorbell"
	KindFloodlight Kind = "floodlight"
	KindWeather    Kind = "weather"
)

// HVAC modes derived for thermostats. Eco variants override the base mode.
const (
	HVACOff      = "off"
	HVACHeat     = "heat"
	HVACCool     = "cool"
	HVACRange    = "range"
	HVACEcoHeat  = "ecoheat"
	HVACEcoCool  = "ecocool"
	HVACEcoRange = "ecorange"
)

// ActivityZone is one camera motion zone
type ActivityZone struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Alert is one normalized camera event
type Alert struct {
	ID           string   `json:"id"`
	PlaybackTime float64  `json:"playback_time"`
	StartTime    float64  `json:"start_time"`
	EndTime      float64  `json:"end_time"`
	ZoneIDs      []int64  `json:"zone_ids"`
	Types        []string `json:"types"`
}

// Device is the canonical record projected from raw data. Kind-specific
// fields are zero for other kinds.
type Device struct {
	Serial          string
	Kind            Kind
	UUID            string
	Description     string
	Manufacturer    string
	SoftwareVersion string
	Excluded        bool
	PairingCode     string
	Username        string // Pseudo-MAC, XX:XX:XX:XX:XX:XX
	Source          Source
	Connection      string
	Online          bool

	// Thermostat
	HVACMode           string
	TargetTemperature  float64
	CurrentTemperature float64
	Humidity           float64
	TemperatureScale   string // "C" or "F"
	BatteryLevel       float64
	CanHeat            bool
	CanCool            bool
	HasFan             bool
	FanRunning         bool
	EcoActive          bool
	TemperatureLocked  bool

	// Temperature sensor
	AssociatedThermostat string

	// Protect
	SmokeAlarm  bool
	COAlarm     bool
	UIColor     string
	LinePowered bool

	// Camera / doorbell
	StreamingEnabled bool
	AudioEnabled     bool
	IndoorChime      bool
	LightEnabled     bool
	LightBrightness  float64
	StreamingHost    string // Nexus/direct streaming host
	NexusAPIHost     string
	ActivityZones    []ActivityZone
	Alerts           []Alert

	// Weather
	Latitude      float64
	Longitude     float64
	Condition     string
	WindSpeed     float64
	WindDirection string
	Sunrise       int64
	Sunset        int64
}
