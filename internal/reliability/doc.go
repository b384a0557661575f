// Package reliability provides the circuit breaker that guards broker clients.
package reliability
