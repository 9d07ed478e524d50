// Package ratelimit fornece os adapters HTTP (net/http) do gateway.
//
// Visão geral (camadas):
//
//   - domain: tipos e contratos (apps, registros, fila, erros) sem net/http
//   - application: avaliação das estratégias, Service.Check, registro de apps e a fila por app
//   - infra: stores (memória/Redis), cliente de encaminhamento, pools e pacers
//   - ratelimit (este pacote): middlewares HTTP, proxy reverso e tradução para status/headers
//
// Fluxo no gateway:
//
//  1. RequestLogger atribui o X-Request-Id
//  2. Middleware resolve /apis/{appId}/... e avalia o rate limit do app
//  3. Admitida: ConcurrencyMiddleware e NewProxy encaminham ao base_url do app
//  4. Limitada: a requisição vira um snapshot na fila do app e espera o drain
//     (ou 429 se a fila estiver cheia, 408 se o tempo na fila acabar)
//
// As variáveis de ambiente do binário (cmd/gateway) controlam o comportamento,
// como APPS_FILE, RECORD_STORE, QUEUE_MAX_SIZE e QUEUE_TIMEOUT.
package ratelimit
