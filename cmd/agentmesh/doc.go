// Command agentmesh runs the delegation daemon: it connects one agent to
// the relay network, serves its project, and resumes suspended runs as
// delegation replies arrive.
//
// Usage:
//
//	agentmesh serve                        # start the daemon
//	agentmesh serve --config mesh.yaml     # with a config file
//	agentmesh keygen                       # generate a signing key
//	agentmesh version                      # show version information
package main
