package parser

const csvStatement = "Konto;Buchungstag;Valuta;Betrag;Verwendungszweck;Referenz;Auftraggeber/Empfänger;Saldo;Währung\n" +
	"DE89370400440532013000;15.01.2024;15.01.2024;250,00;Zahlung Rechnung INV-0042;INV-0042;Muster GmbH;1.250,00;EUR\n"

const mt940Statement = `:20:STARTUMS
:25:DE89370400440532013000
:28C:00001/001
:60F:C240114EUR1000,00
:61:2401150115C250,00NTRFNONREF//BANK-1
:86:166?00GUTSCHRIFT?20EREF+INV-0042?21SVWZ+Zahlung Rechnung INV-0
?22042?32Muster GmbH
:62F:C240115EUR1250,00
-
`

const camtFixture = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <GrpHdr><MsgId>MSG-1</MsgId></GrpHdr>
    <Stmt>
      <Id>STMT-1</Id>
      <Acct>
        <Id><IBAN>DE89370400440532013000</IBAN></Id>
        <Ccy>EUR</Ccy>
        <Svcr><FinInstnId><Nm>Commerzbank</Nm></FinInstnId></Svcr>
      </Acct>
      <Bal>
        <Tp><CdOrPrtry><Cd>PRCD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">1000.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-01-14</Dt></Dt>
      </Bal>
      <Bal>
        <Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">1250.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-01-15</Dt></Dt>
      </Bal>
      <Ntry>
        <Amt Ccy="EUR">250.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts>BOOK</Sts>
        <BookgDt><Dt>2024-01-15</Dt></BookgDt>
        <ValDt><Dt>2024-01-15</Dt></ValDt>
        <AcctSvcrRef>BANK-1</AcctSvcrRef>
        <NtryDtls>
          <TxDtls>
            <Refs><EndToEndId>INV-0042</EndToEndId></Refs>
            <RltdPties><Dbtr><Nm>Muster GmbH</Nm></Dbtr></RltdPties>
            <RmtInf><Ustrd>Zahlung Rechnung INV-0042</Ustrd></RmtInf>
          </TxDtls>
        </NtryDtls>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>
`
