package main

import (
	"encoding/json"
	"os"
)

// Config holds every tunable of the server binary. Field names mirror the
// CLI flag names so parseJSONConfig's -c override can set any of them from
// a JSON file, exactly like kcptun's server config.
type Config struct {
	Listen         string `json:"listen"`
	ServerName     string `json:"server_name"`
	ServerPassword string `json:"server_password"`
	Tethering      bool   `json:"tethering"`
	MTU            int    `json:"mtu"`
	DataShard      int    `json:"datashard"`
	ParityShard    int    `json:"parityshard"`
	StunServer     string `json:"stun_server"`
	MQTTBroker     string `json:"mqtt_broker"`
	RigControlPort string `json:"rigcontrol_port"`
	RigControlBaud int    `json:"rigcontrol_baud"`
	UseRTSForKey   bool   `json:"use_rts_for_keying"`
	SnmpLog        string `json:"snmplog"`
	SnmpPeriod     int    `json:"snmpperiod"`
	Log            string `json:"log"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
