// Package logging provides a chainable structured-field builder shared by
// every component that logs through logrus, so log lines carry a
// consistent vocabulary (component, operation, resource, duration, error)
// instead of ad hoc key names.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a chainable builder for logrus.Fields.
type Fields logrus.Fields

// NewFields returns an empty Fields builder.
func NewFields() Fields {
	return Fields{}
}

// Component records the emitting component's name.
func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

// Operation records the operation being performed.
func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

// Resource records a resource type, and its name if non-empty.
func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

// Duration records an elapsed duration in milliseconds.
func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Error records err's message, doing nothing if err is nil.
func (f Fields) Error(err error) Fields {
	if err == nil {
		return f
	}
	f["error"] = err.Error()
	return f
}

// MissionID records a mission identifier.
func (f Fields) MissionID(id string) Fields {
	f["mission_id"] = id
	return f
}

// RunID records a workflow run identifier.
func (f Fields) RunID(id string) Fields {
	f["run_id"] = id
	return f
}

// Logrus converts the builder to a logrus.Fields for use with
// logger.WithFields.
func (f Fields) Logrus() logrus.Fields {
	return logrus.Fields(f)
}
