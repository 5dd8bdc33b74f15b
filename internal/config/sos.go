package config

import (
	"time"
)

// SOSConfig carries the orchestration budgets. Acknowledgment and arrival
// budgets are per incident priority: critical incidents (priority >= the
// threshold) get the tighter pair.
type SOSConfig struct {
	AckBudget             time.Duration `yaml:"ack_budget"`
	ArrivalBudget         time.Duration `yaml:"arrival_budget"`
	CriticalAckBudget     time.Duration `yaml:"critical_ack_budget"`
	CriticalArrivalBudget time.Duration `yaml:"critical_arrival_budget"`
	CriticalPriority      int           `yaml:"critical_priority"`

	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	DispatchRetries int           `yaml:"dispatch_retries"`
	DispatchBackoff time.Duration `yaml:"dispatch_backoff"`

	DedupWindow   time.Duration `yaml:"dedup_window"`
	SweepSchedule string        `yaml:"sweep_schedule"`

	Shard string `yaml:"shard"`

	SupervisorPhones []string `yaml:"supervisor_phones"`
	SupervisorTopic  string   `yaml:"supervisor_topic"`

	EmergencyLineNumber string `yaml:"emergency_line_number"`

	MedicalEndpoint string `yaml:"medical_endpoint"`
	PoliceEndpoint  string `yaml:"police_endpoint"`
	FireEndpoint    string `yaml:"fire_endpoint"`
	GatewayAPIKey   string `yaml:"gateway_api_key"`
}

func loadSOSConfig() *SOSConfig {
	return &SOSConfig{
		AckBudget:             getEnvAsDuration("SOS_ACK_BUDGET", 60*time.Second),
		ArrivalBudget:         getEnvAsDuration("SOS_ARRIVAL_BUDGET", 15*time.Minute),
		CriticalAckBudget:     getEnvAsDuration("SOS_CRITICAL_ACK_BUDGET", 30*time.Second),
		CriticalArrivalBudget: getEnvAsDuration("SOS_CRITICAL_ARRIVAL_BUDGET", 8*time.Minute),
		CriticalPriority:      getEnvAsInt("SOS_CRITICAL_PRIORITY", 9),
		DispatchTimeout:       getEnvAsDuration("SOS_DISPATCH_TIMEOUT", 4*time.Second),
		DispatchRetries:       getEnvAsInt("SOS_DISPATCH_RETRIES", 2),
		DispatchBackoff:       getEnvAsDuration("SOS_DISPATCH_BACKOFF", 500*time.Millisecond),
		DedupWindow:           getEnvAsDuration("SOS_DEDUP_WINDOW", 5*time.Second),
		SweepSchedule:         getEnv("SOS_SWEEP_SCHEDULE", "*/30 * * * * *"),
		Shard:                 getEnv("SOS_SHARD", "0001"),
		SupervisorPhones:      getEnvAsSlice("SOS_SUPERVISOR_PHONES", nil),
		SupervisorTopic:       getEnv("SOS_SUPERVISOR_TOPIC", "sos-supervisors"),
		EmergencyLineNumber:   getEnv("SOS_EMERGENCY_LINE_NUMBER", ""),
		MedicalEndpoint:       getEnv("SOS_MEDICAL_ENDPOINT", ""),
		PoliceEndpoint:        getEnv("SOS_POLICE_ENDPOINT", ""),
		FireEndpoint:          getEnv("SOS_FIRE_ENDPOINT", ""),
		GatewayAPIKey:         getEnv("SOS_GATEWAY_API_KEY", ""),
	}
}

// AckBudgetFor returns the acknowledgment budget for a response priority.
func (c *SOSConfig) AckBudgetFor(priority int) time.Duration {
	if priority >= c.CriticalPriority && c.CriticalAckBudget > 0 {
		return c.CriticalAckBudget
	}
	return c.AckBudget
}

// ArrivalBudgetFor returns the arrival budget for a response priority.
func (c *SOSConfig) ArrivalBudgetFor(priority int) time.Duration {
	if priority >= c.CriticalPriority && c.CriticalArrivalBudget > 0 {
		return c.CriticalArrivalBudget
	}
	return c.ArrivalBudget
}
