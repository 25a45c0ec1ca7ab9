// Package fraud scores risk-relevant requests.
//
// A Pipeline combines an optional model score, a closed rule set and
// indicators (velocity bands, impossible travel, caller supplied) into a
// composite score in [0,100] and maps it to ALLOW, FLAG, CHALLENGE, REVIEW
// or BLOCK. Events scoring 70 or more wait on a review queue and are raised
// to the audit lane as suspicious activity.
package fraud
