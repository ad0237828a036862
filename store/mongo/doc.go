// Package mongo implements store.Store on the official MongoDB driver.
// Suitable for distributed deployments requiring horizontal scaling.
//
// Claims use FindOneAndUpdate with reserved_at: null in the filter, which
// MongoDB applies atomically to a single document. The caller owns the
// *mongo.Database lifecycle; Store never disconnects the client.
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("conveyor"))
//	s.Migrate(ctx)
package mongo
