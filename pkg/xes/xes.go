// Package xes converts between XES (IEEE 1849) documents and bxes event logs.
package xes

// Element names
const (
	tagLog        = "log"
	tagTrace      = "trace"
	tagEvent      = "event"
	tagExtension  = "extension"
	tagGlobal     = "global"
	tagClassifier = "classifier"
	tagString     = "string"
	tagDate       = "date"
	tagInt        = "int"
	tagFloat      = "float"
	tagBool       = "boolean"
	tagID         = "id"
	tagList       = "list"
	tagValues     = "values"
	tagContainer  = "container"
)

// Attribute keys with dedicated handling
const (
	keyConceptName    = "concept:name"
	keyTimestamp      = "time:timestamp"
	keyLifecycle      = "lifecycle:transition"
	keyArtifactMoves  = "artifactlifecycle:moves"
	keyArtifactModel  = "artifactlifecycle:model"
	keyArtifactInst   = "artifactlifecycle:instance"
	keyArtifactTrans  = "artifactlifecycle:transition"
	keyCostDrivers    = "cost:drivers"
	keyCostDriver     = "cost:driver"
	keyCostAmount     = "cost:amount"
	keyCostType       = "cost:type"
)

// isValueTag reports whether name is an XES attribute element.
func isValueTag(name string) bool {
	switch name {
	case tagString, tagDate, tagInt, tagFloat, tagBool, tagID, tagList, tagContainer:
		return true
	}
	return false
}
