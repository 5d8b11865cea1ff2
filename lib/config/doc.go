// Package config provides configuration management for go-onion nodes.
//
// Defaults() is the single source of truth for default values. InitConfig
// registers those defaults with viper, reads $HOME/.go-onion/config.yaml (or
// the file named by CfgFile) and creates it on first run. CurrentConfig and
// the New*FromViper helpers read the effective values back out.
package config
