// Package modbus provides Modbus TCP communication with field devices.
//
// # Features
//
//   - One persistent connection per (host, port, unit) endpoint
//   - Single-flight connects: concurrent pollers racing to open the
//     same endpoint share one handshake
//   - Holding/input register reads, single register and coil writes
//   - Deadline enforcement on every connect, read and write
//   - Typed error taxonomy classified at the socket layer
//
// # Usage
//
//	pool := modbus.NewPool(modbus.Options{Logger: logger})
//	defer pool.CloseAll()
//
//	ep := modbus.NewEndpoint("10.0.4.21", 502, 1)
//	values, err := pool.ReadRegisters(ctx, ep, modbus.Input, 0, 4)
//	if modbus.IsConnectivity(err) {
//	    // feed the error tracker
//	}
//
// A connection that times out or resets mid-operation is torn down and
// re-established on the next call. The pool never retries on its own.
package modbus
