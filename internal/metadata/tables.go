// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package metadata

// Kind is the declared HDF5-to-JSON type code for one property:
// integer, float, string, or a rank-1/2 float array.
type Kind byte

// Property type codes.
const (
	KindInt        Kind = 'i'
	KindFloat      Kind = 'f'
	KindString     Kind = 's'
	KindFloatArray Kind = 'F'
)

// Property is one row of a property table: the HDF5 path to read, the
// JSON key to emit it under, and its declared type.
type Property struct {
	H5Path   string
	JSONName string
	Kind     Kind
}

// SoftwareVersionProperty is read first, before any other property, to
// pick which table below applies.
var SoftwareVersionProperty = Property{
	H5Path:   "/entry/instrument/detector/detectorSpecific/software_version",
	JSONName: "software_version",
	Kind:     KindString,
}

// tablePre180 holds the full property list from the detector vendor's
// NeXus layout documentation; properties retired in the 1.8.0+
// firmware (removedIn180 below) are only read under this older table.
//
// omega_increment is declared KindInt even though every other
// goniometer increment/start pair is KindFloat; downstream consumers
// read it as an integer, so the declared type stays.
var tablePre180 = []Property{
	{"/entry/instrument/detector/detectorSpecific/auto_summation", "auto_summation", KindInt},
	{"/entry/instrument/detector/beam_center_x", "beam_center_x", KindFloat},
	{"/entry/instrument/detector/beam_center_y", "beam_center_y", KindFloat},
	{"/entry/instrument/detector/bit_depth_readout", "bit_depth_readout", KindInt},
	{"/entry/instrument/detector/bit_depth_image", "bit_depth_image", KindInt},
	{"/entry/instrument/detector/detectorSpecific/calibration_type", "calibration_type", KindString},
	{"/entry/sample/goniometer/chi_increment", "chi_increment", KindFloat},
	{"/entry/sample/goniometer/chi_start", "chi_start", KindFloat},
	{"/entry/instrument/detector/count_time", "count_time", KindFloat},
	{"/entry/instrument/detector/detectorSpecific/countrate_correction_bunch_mode", "countrate_correction_bunch_mode", KindString},
	{"/entry/instrument/detector/detectorSpecific/data_collection_date", "data_collection_date", KindString},
	{"/entry/instrument/detector/description", "description", KindString},
	{"/entry/instrument/detector/detector_distance", "detector_distance", KindFloat},
	{"/entry/instrument/detector/detector_number", "detector_number", KindString},
	{"/entry/instrument/detector/geometry/orientation/value", "detector_orientation", KindFloatArray},
	{"/entry/instrument/detector/detectorSpecific/detector_readout_period", "detector_readout_period", KindFloat},
	{"/entry/instrument/detector/detector_readout_time", "detector_readout_time", KindFloat},
	{"/entry/instrument/detector/geometry/translation/distances", "detector_translation", KindFloatArray},
	{"/entry/instrument/detector/efficiency_correction_applied", "efficiency_correction_applied", KindInt},
	{"/entry/instrument/detector/detectorSpecific/element", "element", KindString},
	{"/entry/instrument/detector/flatfield_correction_applied", "flatfield_correction_applied", KindInt},
	{"/entry/instrument/detector/detectorSpecific/frame_count_time", "frame_count_time", KindFloat},
	{"/entry/instrument/detector/detectorSpecific/frame_period", "frame_period", KindFloat},
	{"/entry/instrument/detector/frame_time", "frame_time", KindFloat},
	{"/entry/sample/goniometer/kappa_increment", "kappa_increment", KindFloat},
	{"/entry/sample/goniometer/kappa_start", "kappa_start", KindFloat},
	{"/entry/instrument/detector/detectorSpecific/nframes_sum", "nframes_sum", KindInt},
	{"/entry/instrument/detector/detectorSpecific/nimages", "nimages", KindInt},
	{"/entry/instrument/detector/detectorSpecific/ntrigger", "ntrigger", KindInt},
	{"/entry/instrument/detector/detectorSpecific/number_of_excluded_pixels", "number_of_excluded_pixels", KindInt},
	{"/entry/sample/goniometer/omega_increment", "omega_increment", KindInt},
	{"/entry/sample/goniometer/omega_start", "omega_start", KindFloat},
	{"/entry/sample/goniometer/phi_increment", "phi_increment", KindFloat},
	{"/entry/sample/goniometer/phi_start", "phi_start", KindFloat},
	{"/entry/instrument/detector/detectorSpecific/photon_energy", "photon_energy", KindFloat},
	{"/entry/instrument/detector/pixel_mask_applied", "pixel_mask_applied", KindInt},
	{"/entry/instrument/detector/sensor_material", "sensor_material", KindString},
	{"/entry/instrument/detector/sensor_thickness", "sensor_thickness", KindFloat},
	SoftwareVersionProperty,
	{"/entry/instrument/detector/detectorSpecific/summation_nimages", "summation_nimages", KindInt},
	{"/entry/instrument/detector/threshold_energy", "threshold_energy", KindFloat},
	{"/entry/instrument/detector/detectorSpecific/trigger_mode", "trigger_mode", KindString},
	{"/entry/instrument/detector/goniometer/two_theta_increment", "two_theta_increment", KindFloat},
	{"/entry/instrument/detector/goniometer/two_theta_start", "two_theta_start", KindFloat},
	{"/entry/instrument/detector/virtual_pixel_correction_applied", "virtual_pixel_correction_applied", KindInt},
	{"/entry/instrument/beam/incident_wavelength", "wavelength", KindFloat},
	{"/entry/instrument/detector/x_pixel_size", "x_pixel_size", KindFloat},
	{"/entry/instrument/detector/detectorSpecific/x_pixels_in_detector", "x_pixels_in_detector", KindInt},
	{"/entry/instrument/detector/y_pixel_size", "y_pixel_size", KindFloat},
	{"/entry/instrument/detector/detectorSpecific/y_pixels_in_detector", "y_pixels_in_detector", KindInt},
}

// removedIn180 lists the JSON names of properties retired in the
// 1.8.0+ firmware.
var removedIn180 = map[string]bool{
	"calibration_type":                true,
	"chi_increment":                   true,
	"chi_start":                       true,
	"countrate_correction_bunch_mode": true,
	"detector_readout_period":         true,
	"efficiency_correction_applied":   true,
	"kappa_increment":                 true,
	"nframes_sum":                     true,
	"omega_increment":                 true,
	"omega_start":                     true,
	"phi_increment":                   true,
	"phi_start":                       true,
	"summation_nimages":               true,
	"two_theta_increment":             true,
}

var table180Plus = func() []Property {
	out := make([]Property, 0, len(tablePre180))
	for _, p := range tablePre180 {
		if !removedIn180[p.JSONName] {
			out = append(out, p)
		}
	}
	return out
}()

// softwareVersion180 is the version string that selects table180Plus;
// any other value, including unrecognized ones, silently falls back
// to tablePre180.
const softwareVersion180 = "1.8.0"

// TableFor returns the property table for the given detector software
// version string.
func TableFor(version string) []Property {
	if version == softwareVersion180 {
		return table180Plus
	}
	return tablePre180
}
