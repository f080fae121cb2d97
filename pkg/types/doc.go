/*
Package types defines the data model shared by every nimbus component.

A ResourceRecord is the unit of declared intent. It holds a flat Spec of
string options, a monotonically increasing Generation bumped on every change
of intent, the Phase the reconciler last settled on and a cached copy of the
live object (Observed). DeletionRequested only ever goes from false to true.

Kinds are vm, volume, network, service and generic-resource. Each kind has
defaults (Defaults) and a set of fields the engine owns on the live object
(ControlledFields); drift in any other field is ignored.

The reconciler speaks in Actions (create, update, delete) stamped with the
generation they were computed for, and gets back a Result whose ErrorKind
tells retryable failures from terminal ones. ExternalView is what the API
serves.

ValidateID and ValidateSpec check requests before they reach the store. They
return *ValidationError so the API can point at the offending field.
*/
package types
