// Package application contém os casos de uso (regras de aplicação) do gateway:
// avaliação das quatro estratégias de rate limit, registro de apps, fila de
// admissão por app e limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Check(ctx, appID) retorna o RateLimitStatus já persistido;
// QueueManager.Enqueue(appID, snapshot, resetAt) adia uma requisição negada.
package application
