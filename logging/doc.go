// Package logging builds named logrus loggers with log4j style console
// output, optional JSON formatting and size-rotated log files, and defines
// the structured Sink that repositories emit their audit events through.
package logging
