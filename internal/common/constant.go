package common

// DefaultKeyRoot is the object-store namespace all service keys live under.
const DefaultKeyRoot = "storage"

// EnvPrefix prefixes every environment variable read by the server config.
const EnvPrefix = "GOPHDRIVE_"
