// Package domain define contratos e tipos de domínio do gateway: configuração
// de apps, registros de contadores, status de rate limit e itens da fila de
// admissão.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
