// Package cuberepo is the core of the Cube Repository Manager: a coordination
// and version-control layer over a multi-tenant repository of named
// multi-dimensional decision tables ("cubes").
//
// The root package holds the shared value types (AppId, CubeInfo), the ports
// consumed by the engine (Persister, Cube, DeltaProcessor, Broadcaster), the
// error taxonomy and small ambient utilities (glob cache, system params,
// acting-user context, retry). The engine itself lives in the manager
// subpackage; the in-process cube cache and advice registry live in cache;
// adapters/redis carries the Redis-based change broadcaster.
//
// The durable persister, the cube implementation and the delta processor are
// consumed through the interfaces declared here and are supplied by the
// embedding application. The mocks subpackage provides in-memory versions of
// all three for tests.
package cuberepo
