// Package dialog реализует сигнальную часть RCS сессии: диалоговый путь
// (DialogPath) с конечным автоматом состояний, последовательность
// INVITE/ACK/BYE/CANCEL/REFER и разбор ответов пира.
//
// Пакет не содержит собственного сетевого стека. Отправка и прием SIP
// сообщений делегируется коллаборатору SignalingTransport, что позволяет
// подключать как реальный стек (sipgo), так и моки в тестах.
//
// Основные компоненты:
//   - DialogPath - транзакционное состояние одной сигнальной сессии
//     (Call-ID, теги, счетчик CSeq, маршруты, согласованный контент)
//   - SignalingTransport - примитив отправки запросов и ответов
//   - InviteFlow - исходящий и входящий сценарии установления сессии
//
// Состояния диалога: Initial -> SignalingEstablished -> SessionEstablished
// -> Terminated, с терминальной веткой Cancelled до установления сессии.
package dialog
