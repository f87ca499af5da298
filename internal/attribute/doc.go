// Package attribute provides per-entity introspection points.
//
// Every entity on the bus (the bus itself, each device and each driver)
// owns a Store. A Store maps attribute names to a reader and an optional
// writer, in the same spirit as sysfs files: values are always strings and
// the access mode decides who may read or write them.
//
// # Locking
//
// Each Store carries its own lock so that attribute traffic on one entity
// never queues behind registration traffic on the bus. Reads hold the
// read lock while the reader runs; writes hold the write lock. Accessors
// must not call back into the Store that invoked them.
//
// # Usage
//
//	store := attribute.NewStore()
//	err := store.Publish(attribute.ReadOnly("version", func() (string, error) {
//	    return "1.0", nil
//	}))
//	v, err := store.Read("version") // "1.0"
package attribute
