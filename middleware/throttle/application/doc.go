// Package application contém os casos de uso (regras de aplicação) do throttle.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, throttle, ev) retorna uma Decision (allow/deny + retry-after).
package application
