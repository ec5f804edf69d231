// Package protocol defines the messages exchanged inside a solvegrid cluster
// and their XML encoding.
//
// Every message is a single XML document whose root element names its kind:
//
//	<?xml version="1.0" encoding="UTF-8"?>
//	<SolveRequest>
//	  <ProblemType>TSP</ProblemType>
//	  <SolvingTimeout>30000</SolvingTimeout>
//	  <Data>AAAZ</Data>
//	</SolveRequest>
//
// Payloads are opaque to the cluster and travel base64 encoded. Durations are
// integer milliseconds. An empty document is a valid reply meaning "nothing to do".
//
// Decode dispatches on the root element through a fixed table; callers switch
// on the concrete type of the returned Message.
package protocol
