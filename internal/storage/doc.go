// Package storage persists the results of product inspections.
//
// A Service follows the inspection lifecycle of one product instance at a
// time:
//
//	StartProductInspection
//	  StartSeamInspection, AddResult/AddNio..., EndSeamInspection
//	  ...
//	EndProductInspection
//
// Whether an instance is written is decided once, at its start, from the
// enabled setting and the latest disk usage check. Admitted instances are
// staged below the staging directory and moved into
//
//	<results>/<product uuid>/<instance uuid>-SN-<serial>/
//
// when the product ends. Each finished instance is appended to the cache
// index of the results root and the oldest instances are evicted in the
// background once the configured number of entries is exceeded.
//
// Seams configured for an external LWM device stay open after their end
// until the LWM result arrives.
package storage
