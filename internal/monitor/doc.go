// Package monitor drives the periodic health polling of field devices.
//
// # Features
//
//   - Single global tick with skip-on-overlap: a tick that fires while
//     the previous one is still running is dropped, never queued
//   - Per-task intervals layered on the global tick
//   - Task isolation: a failing or panicking routine increments its
//     own consecutive-error counter and leaves siblings untouched
//   - Family pollers for controllers, environment sensors and lighting
//     gateways, feeding the error tracker, threshold evaluator and
//     notification channel
//
// # Usage
//
//	sched := monitor.NewScheduler(15*time.Second, logger)
//	sched.Register(poller.Name(), poller.Poll, 0)
//	sched.Start(ctx)
//	defer sched.Stop()
package monitor
