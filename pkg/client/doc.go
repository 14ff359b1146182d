/*
Package client is a Go client for the burrow HTTP API.

	c, err := client.NewClient("localhost:8080")
	if err != nil {
		return err
	}
	defer c.Close()

	pools, err := c.ListPools(ctx)
	err = c.Reconcile(ctx)

Non-2xx answers are returned as *APIError; errors.Is(err, ErrNotFound)
matches 404s. CheckHealth speaks the standard gRPC health protocol and is
independent of the HTTP client.
*/
package client
