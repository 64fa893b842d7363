package upload

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/sensorsink/pkg/model"
)

// validate is the shared validator instance for metadata requests. It only
// covers per-field presence and length caps; the cross-field rules live in
// ValidateMetadata because they depend on parsed numbers.
var validate = validator.New(validator.WithRequiredStructEnabled())

// minLocationCount is the smallest track a measurement upload may carry.
// Anything below it cannot be processed downstream, so the server refuses
// the upload outright instead of failing it later.
const minLocationCount = 2

// ValidateMetadata checks a raw metadata request and returns the validated,
// immutable Metadata.
//
// Refusals come first: a track with fewer than two locations and an
// unsupported format version are policy decisions (ErrSkipUpload), not
// client errors. Everything after that is ErrInvalidMetadata: missing
// fields, length caps, unparsable numbers, out-of-range coordinates and a
// half-present location pair.
//
// The function is total on its input and performs no I/O.
func ValidateMetadata(req *model.MetadataRequest) (*model.Metadata, error) {
	locationCount, err := req.LocationCount.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: locationCount %q", ErrInvalidMetadata, req.LocationCount)
	}
	if locationCount < minLocationCount {
		return nil, fmt.Errorf("%w: too few locations (%d)", ErrSkipUpload, locationCount)
	}

	formatVersion, err := req.FormatVersion.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: formatVersion %q", ErrInvalidMetadata, req.FormatVersion)
	}
	if formatVersion != model.CurrentFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrSkipUpload, formatVersion)
	}

	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	if len(req.DeviceID) != model.DeviceIDLength {
		return nil, fmt.Errorf("%w: deviceId must be %d characters, got %d",
			ErrInvalidMetadata, model.DeviceIDLength, len(req.DeviceID))
	}
	if len(req.MeasurementID) > model.MaxMeasurementIDLen {
		return nil, fmt.Errorf("%w: measurementId longer than %d characters",
			ErrInvalidMetadata, model.MaxMeasurementIDLen)
	}
	if v, err := req.MeasurementID.Int64(); err != nil || v < 0 {
		return nil, fmt.Errorf("%w: measurementId %q is not a non-negative integer",
			ErrInvalidMetadata, req.MeasurementID)
	}

	length, err := req.Length.Float64()
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: length %q", ErrInvalidMetadata, req.Length)
	}

	start, err := parseLocation("start", req.StartLocLat, req.StartLocLon, req.StartLocTS)
	if err != nil {
		return nil, err
	}
	end, err := parseLocation("end", req.EndLocLat, req.EndLocLon, req.EndLocTS)
	if err != nil {
		return nil, err
	}
	// The six location fields are all-or-none, and their presence is tied
	// to the location count.
	if (start == nil) != (end == nil) {
		return nil, fmt.Errorf("%w: start and end location must both be present or both absent", ErrInvalidMetadata)
	}
	if locationCount == 0 && start != nil {
		return nil, fmt.Errorf("%w: locations present but locationCount is 0", ErrInvalidMetadata)
	}
	if locationCount > 0 && start == nil {
		return nil, fmt.Errorf("%w: locationCount is %d but locations are absent", ErrInvalidMetadata, locationCount)
	}

	return &model.Metadata{
		DeviceID:      string(req.DeviceID),
		MeasurementID: string(req.MeasurementID),
		DeviceType:    string(req.DeviceType),
		OSVersion:     string(req.OSVersion),
		AppVersion:    string(req.AppVersion),
		Modality:      string(req.Modality),
		Length:        length,
		LocationCount: locationCount,
		FormatVersion: int(formatVersion),
		StartLocation: start,
		EndLocation:   end,
		AttachmentID:  string(req.AttachmentID),
	}, nil
}

// parseLocation turns one lat/lon/ts triple into a GeoLocation. All three
// fields absent yields (nil, nil); a partially present triple or an
// out-of-range coordinate is ErrInvalidMetadata.
func parseLocation(which string, lat, lon, ts model.Field) (*model.GeoLocation, error) {
	if lat.Empty() && lon.Empty() && ts.Empty() {
		return nil, nil
	}
	if lat.Empty() || lon.Empty() || ts.Empty() {
		return nil, fmt.Errorf("%w: incomplete %s location", ErrInvalidMetadata, which)
	}

	latV, err := lat.Float64()
	if err != nil || latV < -90 || latV > 90 {
		return nil, fmt.Errorf("%w: %s latitude %q", ErrInvalidMetadata, which, lat)
	}
	lonV, err := lon.Float64()
	if err != nil || lonV < -180 || lonV > 180 {
		return nil, fmt.Errorf("%w: %s longitude %q", ErrInvalidMetadata, which, lon)
	}
	tsV, err := ts.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: %s timestamp %q", ErrInvalidMetadata, which, ts)
	}

	return &model.GeoLocation{Timestamp: tsV, Lat: latV, Lon: lonV}, nil
}
