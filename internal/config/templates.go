package config

import (
	"fmt"
	"os"
)

// Template is a commented starting-point config. Every key is optional;
// the values shown are the built-in defaults.
const Template = `# fwctl build configuration. Every key is optional and the values shown
# are the defaults. Relative paths resolve against this file's directory.

# Pin the firmware release directly, or leave it to the version file.
# version = "v1.13.3"
version_file = ".px4-version"

workspace_dir = "build"
dist_dir = "dist"
patches_dir = "patches"

[firmware]
remote = "https://github.com/PX4/PX4-Autopilot"
dir = "PX4-Autopilot"
patch = "hil_gps_heading"

[codec]
remote = "https://github.com/ardupilot/pymavlink"
dir = "pymavlink"
patch = "pymavlink"

[dialect]
name = "bell"
definition = "bell.xml"
analyzer_plugin = "bell-avr.lua"

[build]
python = "python3"
targets = ["px4_fmu-v5x_default", "px4_fmu-v6c_default", "px4_fmu-v6x_default"]
committer_name = "fwctl"
committer_email = "fwctl@localhost"
commit_message = "Local commit to facilitate build"

[container]
firmware_image = "docker.io/px4io/px4-dev-nuttx-focal:latest"
codec_image = "docker.io/library/python:3.11-buster"
`

// WriteTemplate writes the starting-point config to path. An existing
// file is kept unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}
