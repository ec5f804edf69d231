// Package config loads coordinator and node settings.
//
// Settings are merged from three layers, later layers overriding earlier:
//
//  1. Built-in defaults
//  2. A YAML file, when one is given
//  3. Environment variables prefixed with SOLVEGRID_, where underscores
//     become dots (SOLVEGRID_NODE_TIMEOUT sets node.timeout)
//
// Dotenv files (.env.local, then .env) are read into the environment before
// the last layer, so they act as environment variables without overriding
// ones already set.
//
// Durations accept Go syntax ("30s", "400ms"); lists accept comma-separated
// strings when set from the environment.
package config
