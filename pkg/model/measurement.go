// Package model defines the measurement metadata types shared by the
// upload protocol, the object store and the metadata catalog.
package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// CurrentFormatVersion is the only transfer format version this server
// accepts. Clients running older firmware are refused with a skip response
// so they stop retrying.
const CurrentFormatVersion = 2

// Field length caps enforced by the validator.
const (
	DeviceIDLength     = 36 // UUID, exactly
	MaxGenericFieldLen = 30 // deviceType, osVersion, appVersion, modality
	MaxMeasurementIDLen = 20
)

// GeoLocation is a single GPS fix captured at the start or end of a
// measurement.
type GeoLocation struct {
	// Timestamp in milliseconds since the Unix epoch.
	Timestamp int64 `bson:"timestamp" json:"timestamp"`
	Lat       float64 `bson:"lat" json:"lat"`
	Lon       float64 `bson:"lon" json:"lon"`
}

// Metadata is the validated, immutable description of one measurement
// upload. It is constructed exactly once, either from the pre-request JSON
// body or from the upload request headers, and persisted unchanged in the
// catalog once the payload is fully stored.
type Metadata struct {
	DeviceID      string `bson:"deviceId" json:"deviceId"`
	MeasurementID string `bson:"measurementId" json:"measurementId"`
	DeviceType    string `bson:"deviceType" json:"deviceType"`
	OSVersion     string `bson:"osVersion" json:"osVersion"`
	AppVersion    string `bson:"appVersion" json:"appVersion"`
	Modality      string `bson:"modality" json:"modality"`

	// Length is the measured track length in meters.
	Length float64 `bson:"length" json:"length"`

	// LocationCount is the number of GPS fixes in the payload. Zero means
	// the payload carries no track (both locations absent).
	LocationCount int64 `bson:"locationCount" json:"locationCount"`

	FormatVersion int `bson:"formatVersion" json:"formatVersion"`

	StartLocation *GeoLocation `bson:"startLocation,omitempty" json:"startLocation,omitempty"`
	EndLocation   *GeoLocation `bson:"endLocation,omitempty" json:"endLocation,omitempty"`

	// AttachmentID is set for attachment uploads that belong to an already
	// captured measurement, empty for the measurement itself.
	AttachmentID string `bson:"attachmentId,omitempty" json:"attachmentId,omitempty"`
}

// IsAttachment reports whether this metadata describes an attachment upload.
func (m *Metadata) IsAttachment() bool {
	return m.AttachmentID != ""
}

// CatalogDoc is the persisted image of a completed upload: the metadata
// plus the owning user, the storage filename and the total payload size.
// Written once, never mutated.
type CatalogDoc struct {
	ID string `bson:"_id,omitempty" json:"id,omitempty"`

	// Filename is the upload identifier under which the payload lives in
	// the object store.
	Filename string `bson:"filename" json:"filename"`

	// Length is the total payload size in bytes.
	Length int64 `bson:"length" json:"length"`

	// UploadDate is the commit time, serialized ISO-8601.
	UploadDate time.Time `bson:"uploadDate" json:"uploadDate"`

	Metadata DocMetadata `bson:"metadata" json:"metadata"`
}

// DocMetadata carries all Metadata fields plus the authenticated user id
// inside a CatalogDoc.
type DocMetadata struct {
	Metadata `bson:",inline"`

	UserID string `bson:"userId" json:"userId"`
}

// Field is a JSON value that may arrive either as a string or as a bare
// number. Capture devices of different firmware generations disagree on
// which one they send, so both are accepted and normalized to a string.
type Field string

// UnmarshalJSON accepts "12", 12 and 12.5 alike.
func (f *Field) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Field(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = Field(n.String())
	return nil
}

// Int64 parses the field as a base-10 integer.
func (f Field) Int64() (int64, error) {
	return strconv.ParseInt(string(f), 10, 64)
}

// Float64 parses the field as a floating point number.
func (f Field) Float64() (float64, error) {
	return strconv.ParseFloat(string(f), 64)
}

// Empty reports whether the field is absent or blank.
func (f Field) Empty() bool { return f == "" }

// MetadataRequest is the raw, unvalidated metadata as sent by a device,
// either as the pre-request JSON body or spread over the upload request
// headers. Run it through upload.ValidateMetadata to obtain a Metadata.
type MetadataRequest struct {
	DeviceID      Field `json:"deviceId" validate:"required"`
	MeasurementID Field `json:"measurementId" validate:"required"`
	DeviceType    Field `json:"deviceType" validate:"required,max=30"`
	OSVersion     Field `json:"osVersion" validate:"required,max=30"`
	AppVersion    Field `json:"appVersion" validate:"required,max=30"`
	Modality      Field `json:"modality" validate:"required,max=30"`
	Length        Field `json:"length" validate:"required"`
	LocationCount Field `json:"locationCount" validate:"required"`
	FormatVersion Field `json:"formatVersion" validate:"required"`

	StartLocLat Field `json:"startLocLat,omitempty"`
	StartLocLon Field `json:"startLocLon,omitempty"`
	StartLocTS  Field `json:"startLocTS,omitempty"`
	EndLocLat   Field `json:"endLocLat,omitempty"`
	EndLocLon   Field `json:"endLocLon,omitempty"`
	EndLocTS    Field `json:"endLocTS,omitempty"`

	AttachmentID Field `json:"attachmentId,omitempty"`
}
